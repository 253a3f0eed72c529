// Package sqlitestore implements a braid.Store on a single SQLite database
// file, using the pure Go driver from modernc.org/sqlite.
//
// The store keeps the commit log of every sample, and serves snapshots by
// replaying it. Actors are kept as their latest record, with their version
// history also laid out in its own table for ad-hoc queries.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/danielorbach/go-component"
	"github.com/go-digitaltwin/braid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/go-digitaltwin/braid/sqlitestore")

const schema = `
CREATE TABLE IF NOT EXISTS commits (
	sample_id    TEXT    NOT NULL,
	versionstamp INTEGER NOT NULL,
	kind         TEXT    NOT NULL,
	hash         TEXT    NOT NULL,
	payload      BLOB    NOT NULL,
	PRIMARY KEY (sample_id, versionstamp)
);
CREATE TABLE IF NOT EXISTS actors (
	id       TEXT    PRIMARY KEY,
	revision INTEGER NOT NULL,
	state    TEXT    NOT NULL,
	payload  BLOB    NOT NULL
);
CREATE TABLE IF NOT EXISTS actor_versions (
	actor_id    TEXT    NOT NULL,
	version     INTEGER NOT NULL,
	timestamp   TEXT    NOT NULL,
	description TEXT    NOT NULL,
	changed_by  TEXT    NOT NULL,
	PRIMARY KEY (actor_id, version)
);
`

// Store is a braid.Store persisted in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path and prepares its
// tables. Use ":memory:" for a private, transient database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serialises writers anyway; a single connection also keeps an
	// in-memory database from splitting into one database per connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// RecordCommit appends the commit to the sample's log. A commit already in the
// log is accepted if its hash matches; a commit that skips a versionstamp is
// rejected.
func (s *Store) RecordCommit(ctx context.Context, c braid.Commit) (err error) {
	ctx, span := tracer.Start(ctx, "RecordCommit", trace.WithAttributes(
		attribute.Stringer("sample.id", c.Sample),
		attribute.Int64("sample.versionstamp", int64(c.Versionstamp)),
	))
	defer span.End()
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	payload, err := braid.MarshalCommit(c)
	if err != nil {
		return err
	}
	hash, err := c.Hash.MarshalText()
	if err != nil {
		return fmt.Errorf("marshal hash: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var next int64
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM commits WHERE sample_id = ?`, c.Sample.String()).Scan(&next)
	if err != nil {
		return fmt.Errorf("count commits: %w", err)
	}
	switch v := int64(c.Versionstamp); {
	case v < next:
		var recorded string
		err = tx.QueryRowContext(ctx, `SELECT hash FROM commits WHERE sample_id = ? AND versionstamp = ?`, c.Sample.String(), v).Scan(&recorded)
		if err != nil {
			return fmt.Errorf("select hash: %w", err)
		}
		if recorded != string(hash) {
			return fmt.Errorf("sample %v at versionstamp %d: recorded %s, replayed %s", c.Sample, v, recorded, hash)
		}
		component.Logger(ctx).Debug("Ignored replayed commit", "sample.id", c.Sample, "sample.versionstamp", v)
		return tx.Commit()
	case v > next:
		return fmt.Errorf("sample %v: commit at versionstamp %d, want %d", c.Sample, v, next)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO commits(sample_id, versionstamp, kind, hash, payload) VALUES(?,?,?,?,?)`,
		c.Sample.String(), int64(c.Versionstamp), c.Kind.String(), string(hash), payload)
	if err != nil {
		return fmt.Errorf("insert commit: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// RecordActor upserts the actor's record unless the stored one has the same or
// a newer revision.
func (s *Store) RecordActor(ctx context.Context, t braid.ActorTransition) (err error) {
	ctx, span := tracer.Start(ctx, "RecordActor", trace.WithAttributes(
		attribute.Stringer("actor.id", t.Actor.ID),
		attribute.String("actor.op", string(t.Op)),
	))
	defer span.End()
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	payload, err := braid.MarshalActor(t.Actor)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	id := t.Actor.ID.String()
	_, err = tx.ExecContext(ctx, `INSERT INTO actors(id, revision, state, payload) VALUES(?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET revision=excluded.revision, state=excluded.state, payload=excluded.payload
		WHERE excluded.revision > actors.revision`,
		id, int64(t.Actor.Revision), t.Actor.State.String(), payload)
	if err != nil {
		return fmt.Errorf("upsert actor: %w", err)
	}
	for _, v := range t.Actor.Versions {
		_, err = tx.ExecContext(ctx, `INSERT INTO actor_versions(actor_id, version, timestamp, description, changed_by) VALUES(?,?,?,?,?)
			ON CONFLICT(actor_id, version) DO NOTHING`,
			id, v.Version, v.Timestamp.UTC().Format(timeLayout), v.Description, v.ChangedBy)
		if err != nil {
			return fmt.Errorf("insert version %d: %w", v.Version, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// LoadSample replays the sample's log up to the given versionstamp.
func (s *Store) LoadSample(ctx context.Context, id braid.SampleID, versionstamp uint64) (*braid.Sample, error) {
	ctx, span := tracer.Start(ctx, "LoadSample", trace.WithAttributes(
		attribute.Stringer("sample.id", id),
	))
	defer span.End()

	// The sentinel does not fit SQLite's signed integers.
	upto := int64(-1)
	if versionstamp != braid.Latest {
		upto = int64(versionstamp)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT versionstamp, payload FROM commits
		WHERE sample_id = ? AND (? < 0 OR versionstamp <= ?)
		ORDER BY versionstamp`, id.String(), upto, upto)
	if err != nil {
		return nil, fmt.Errorf("select commits: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var commits []braid.Commit
	for rows.Next() {
		var (
			v       int64
			payload []byte
		)
		if err := rows.Scan(&v, &payload); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		c, err := braid.UnmarshalCommit(payload)
		if err != nil {
			return nil, fmt.Errorf("versionstamp %d: %w", v, err)
		}
		commits = append(commits, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select commits: %w", err)
	}
	if len(commits) == 0 {
		return nil, fmt.Errorf("sample %v: %w", id, braid.ErrNotFound)
	}
	if versionstamp != braid.Latest && commits[len(commits)-1].Versionstamp != versionstamp {
		return nil, fmt.Errorf("sample %v at versionstamp %d: %w", id, versionstamp, braid.ErrNotFound)
	}

	sample, err := braid.Rebuild(commits)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return sample, nil
}

func (s *Store) LoadActor(ctx context.Context, id braid.ActorID) (braid.Actor, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM actors WHERE id = ?`, id.String()).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return braid.Actor{}, fmt.Errorf("actor %v: %w", id, braid.ErrNotFound)
	}
	if err != nil {
		return braid.Actor{}, fmt.Errorf("select actor: %w", err)
	}
	return braid.UnmarshalActor(payload)
}

// Samples returns the ids of every sample in the store.
func (s *Store) Samples(ctx context.Context) ([]braid.SampleID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT sample_id FROM commits ORDER BY sample_id`)
	if err != nil {
		return nil, fmt.Errorf("select samples: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var ids []braid.SampleID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		id, err := braid.ParseSampleID(raw)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
