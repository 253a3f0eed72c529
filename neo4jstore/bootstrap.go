package neo4jstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// The node keys of every label the store writes. Each one is enforced with a
// NODE KEY constraint, which also indexes it.
var nodeKeys = map[string]string{
	"Sample":        "n.id",
	"SampleVersion": "(n.sample_id, n.versionstamp)",
	"Event":         "n.id",
	"Actor":         "n.id",
	"ActorVersion":  "(n.actor_id, n.version)",
}

// BootstrapDatabase creates the necessary constraints and indexes for the
// database to be suitable for use by a Store.
//
// Index by identity for optimised lookups, and constraint uniqueness by
// identity to prevent duplicate nodes (caused by concurrent MERGEs).
//
// To execute queries against the created database, open a session with the
// database name as the default database. For example:
//
//	s := d.NewSession(ctx, neo4j.SessionConfig{DatabaseName: name})
//	defer func() { _ = s.Close(ctx) }()
//	... use s ...
//
// This function is idempotent.
func BootstrapDatabase(ctx context.Context, d neo4j.DriverWithContext, name string) error {
	if err := createDatabase(ctx, d, name); err != nil {
		return fmt.Errorf("create database: %w", err)
	}

	s := d.NewSession(ctx, neo4j.SessionConfig{DatabaseName: name})
	defer func() { _ = s.Close(ctx) }()

	// Schema commands cannot share a transaction with anything else, so each one
	// runs in its own auto-commit transaction.
	for label, key := range nodeKeys {
		// we use key constraint instead of uniqueness constraint because we can
		// (it is only available in the enterprise edition).
		_, err := s.Run(ctx, `
			CREATE CONSTRAINT IF NOT EXISTS
			FOR (n:`+label+`)
			REQUIRE `+key+` IS NODE KEY
		`, nil)
		if err != nil {
			return fmt.Errorf("key constraint: label %v: %w", label, err)
		}
	}
	return s.Close(ctx)
}

// reservedDatabase reports whether Neo4j keeps the database name for itself.
func reservedDatabase(name string) bool {
	return name == "neo4j" || strings.HasPrefix(name, "system") || strings.HasPrefix(name, "_")
}

// createDatabase panics on names no store may ever use; other invalid names are
// left for the server to refuse.
func createDatabase(ctx context.Context, d neo4j.DriverWithContext, name string) error {
	switch {
	case name == "":
		panic("neo4jstore: database name must not be empty")
	case reservedDatabase(name):
		panic(fmt.Sprintf("neo4jstore: database name %q is reserved for internal use", name))
	}

	s := d.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer func() { _ = s.Close(ctx) }()

	_, err := s.Run(ctx, "CREATE DATABASE $name IF NOT EXISTS WAIT", map[string]any{"name": name})
	return err
}
