// Package neo4jstore implements a braid.Store on Neo4j.
//
// Besides the commit log from which snapshots are rebuilt, the store lays out
// every sample as a property graph: (:Sample)-[:CONTAINS]->(:Event) nodes,
// connected by [:FEEDS] relationships of the committed edge kind. This makes
// lineage questions across samples answerable with plain Cypher, for example:
//
//	MATCH (e:Event {id: $id})<-[:FEEDS*]-(u:Event) RETURN u
package neo4jstore

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/danielorbach/go-component"
	"github.com/go-digitaltwin/braid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Store is a braid.Store persisted in a Neo4j database prepared by
// BootstrapDatabase.
//
// Each record is written in its own transaction, which is rolled back should
// any of its queries fail. This ensures each record applies atomically.
type Store struct {
	driver   neo4j.DriverWithContext // Connection to the neo4j server/cluster.
	database string                  // Target database name that identifies the specific underlying neo4j graph.
}

// NewStore returns a ready-to-use Store using the given database.
func NewStore(driver neo4j.DriverWithContext, database string) *Store {
	return &Store{driver: driver, database: database}
}

// RecordCommit appends the commit to the sample's log and mirrors its events and
// edges into the property graph. A commit already in the log is accepted if its
// hash matches; a commit that skips a versionstamp is rejected.
//
// The function panics if the property graph lost its integrity, or if a Cypher
// query was changed without its surrounding code (see errPropertyNotFound).
func (s *Store) RecordCommit(ctx context.Context, c braid.Commit) (err error) {
	ctx, span := tracer.Start(ctx, "RecordCommit", trace.WithAttributes(
		attribute.String("neo4j.database", s.database),
		attribute.Stringer("sample.id", c.Sample),
		attribute.Int64("sample.versionstamp", int64(c.Versionstamp)),
	))
	defer span.End()
	logger := component.Logger(ctx).With("neo4j.database", s.database)
	ctx = component.InjectLogger(ctx, logger) // Inject for further logs down the call-stack.

	payload, err := braid.MarshalCommit(c)
	if err != nil {
		return err
	}
	hash, err := c.Hash.MarshalText()
	if err != nil {
		return fmt.Errorf("marshal hash: %w", err)
	}

	return s.write(ctx, func(tx neo4j.ManagedTransaction) error {
		recorded, next, err := versionOf(ctx, tx, c)
		if err != nil {
			return err
		}
		switch v := int64(c.Versionstamp); {
		case v < next:
			if recorded != string(hash) {
				return fmt.Errorf("sample %v at versionstamp %d: recorded %s, replayed %s", c.Sample, v, recorded, hash)
			}
			replayedRecordCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("record", "commit")))
			return nil
		case v > next:
			return fmt.Errorf("sample %v: commit at versionstamp %d, want %d", c.Sample, v, next)
		}

		_, err = tx.Run(ctx, `
			MERGE (s:Sample {id: $sample})
			ON CREATE SET s._created_at = datetime()
			SET s.name = $name, s.status = $status, s.versionstamp = $versionstamp, s._last_modified = datetime()
			CREATE (s)-[:AT]->(:SampleVersion {
				sample_id: $sample,
				versionstamp: $versionstamp,
				kind: $kind,
				hash: $hash,
				payload: $payload
			})
		`, map[string]any{
			"sample":       c.Sample.String(),
			"name":         c.Schematic.Name,
			"status":       string(c.Schematic.Status),
			"versionstamp": int64(c.Versionstamp),
			"kind":         c.Kind.String(),
			"hash":         string(hash),
			"payload":      payload,
		})
		if err != nil {
			return fmt.Errorf("run cypher: %w", err)
		}

		for _, e := range c.Events {
			if err := mergeEvent(ctx, tx, e); err != nil {
				return fmt.Errorf("merge %v: %w", e, err)
			}
		}
		for _, x := range c.Edges {
			if err := mergeEdge(ctx, tx, x); err != nil {
				return fmt.Errorf("merge edge %v -> %v: %w", x.From, x.To, err)
			}
		}
		return nil
	})
}

// versionOf returns the hash recorded for the commit's versionstamp, if any,
// and the next versionstamp the sample's log expects.
func versionOf(ctx context.Context, tx neo4j.ManagedTransaction, c braid.Commit) (recorded string, next int64, err error) {
	result, err := tx.Run(ctx, `
		OPTIONAL MATCH (v:SampleVersion {sample_id: $sample})
		WITH count(v) AS next, collect(CASE WHEN v.versionstamp = $versionstamp THEN v.hash END) AS hashes
		RETURN next, coalesce(head(hashes), "") AS recorded
	`, map[string]any{
		"sample":       c.Sample.String(),
		"versionstamp": int64(c.Versionstamp),
	})
	if err != nil {
		return "", 0, fmt.Errorf("run cypher: %w", err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("query single result: %w", err)
	}
	if next, err = getRecordProperty[int64](record, "next"); err != nil {
		return "", 0, fmt.Errorf("get next: %w", err)
	}
	if recorded, err = getRecordProperty[string](record, "recorded"); err != nil {
		return "", 0, fmt.Errorf("get recorded: %w", err)
	}
	return recorded, next, nil
}

func mergeEvent(ctx context.Context, tx neo4j.ManagedTransaction, e braid.Event) error {
	result, err := tx.Run(ctx, `
		MATCH (s:Sample {id: $sample})
		MERGE (s)-[:CONTAINS]->(e:Event {id: $id})
		ON CREATE SET e._created_at = datetime()
		SET e += $props, e._last_modified = datetime()
		RETURN count(e) AS nodes
	`, map[string]any{
		"sample": e.Sample.String(),
		"id":     e.ID.String(),
		"props": map[string]any{
			"type":         e.Type.String(),
			"subtype":      e.Subtype,
			"name":         e.Schematic.Name,
			"position":     e.Position(),
			"versionstamp": int64(e.Schematic.Versionstamp),
			"status":       string(e.Schematic.Status),
			"tags":         e.Schematic.Tags,
			"actor":        actorProperty(e.Actor),
			"method":       e.Method.ID,
		},
	})
	if err != nil {
		return fmt.Errorf("run cypher: %w", err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return fmt.Errorf("query single result: %w", err)
	}
	nodes, err := getRecordProperty[int64](record, "nodes")
	if err != nil {
		return fmt.Errorf("get nodes: %w", err)
	}
	// An event is a single node contained in a single sample. Merging it should
	// touch exactly one node; anything else means an event moved between samples
	// or was duplicated.
	if nodes != 1 {
		panicWithCorruptedGraph(ctx, fmt.Sprintf("merge-event %v touched %v nodes instead of 1", e.ID, nodes))
	}
	return nil
}

func mergeEdge(ctx context.Context, tx neo4j.ManagedTransaction, x braid.Edge) error {
	props := map[string]any{"kind": x.Kind.String()}
	if x.Ingredient != nil {
		props["amount"] = x.Ingredient.Amount
		props["unit"] = x.Ingredient.Unit
	}
	result, err := tx.Run(ctx, `
		MATCH (a:Event {id: $from}), (b:Event {id: $to})
		MERGE (a)-[r:FEEDS]->(b)
		ON CREATE SET r._created_at = datetime()
		SET r += $props
		RETURN count(r) AS edges
	`, map[string]any{
		"from":  x.From.String(),
		"to":    x.To.String(),
		"props": props,
	})
	if err != nil {
		return fmt.Errorf("run cypher: %w", err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return fmt.Errorf("query single result: %w", err)
	}
	edges, err := getRecordProperty[int64](record, "edges")
	if err != nil {
		return fmt.Errorf("get edges: %w", err)
	}
	// The commit carries its edges after its events, so both endpoints exist by
	// now; a missing endpoint means the mirrored graph diverged from the log.
	if edges != 1 {
		panicWithCorruptedGraph(ctx, fmt.Sprintf("merge-edge %v -> %v touched %v edges instead of 1", x.From, x.To, edges))
	}
	return nil
}

func actorProperty(id braid.ActorID) any {
	if id.IsZero() {
		return nil
	}
	return id.String()
}

// RecordActor upserts the actor's record unless the stored one has the same or
// a newer revision, and merges its version history.
func (s *Store) RecordActor(ctx context.Context, t braid.ActorTransition) error {
	ctx, span := tracer.Start(ctx, "RecordActor", trace.WithAttributes(
		attribute.String("neo4j.database", s.database),
		attribute.Stringer("actor.id", t.Actor.ID),
		attribute.String("actor.op", string(t.Op)),
	))
	defer span.End()

	payload, err := braid.MarshalActor(t.Actor)
	if err != nil {
		return err
	}
	versions := make([]map[string]any, len(t.Actor.Versions))
	for i, v := range t.Actor.Versions {
		versions[i] = map[string]any{
			"version":     int64(v.Version),
			"timestamp":   v.Timestamp,
			"description": v.Description,
			"changed_by":  v.ChangedBy,
		}
	}

	return s.write(ctx, func(tx neo4j.ManagedTransaction) error {
		result, err := tx.Run(ctx, `
			MERGE (a:Actor {id: $id})
			ON CREATE SET a._created_at = datetime(), a.revision = -1
			WITH a, a.revision < $revision AS newer
			FOREACH (x IN CASE WHEN newer THEN [1] ELSE [] END |
				SET a.revision = $revision, a.name = $name, a.state = $state, a.payload = $payload, a._last_modified = datetime()
			)
			WITH a, newer
			UNWIND $versions AS v
			MERGE (av:ActorVersion {actor_id: $id, version: v.version})
			ON CREATE SET av.timestamp = v.timestamp, av.description = v.description, av.changed_by = v.changed_by
			MERGE (a)-[:HAS_VERSION]->(av)
			RETURN newer, count(av) AS versions
		`, map[string]any{
			"id":       t.Actor.ID.String(),
			"revision": int64(t.Actor.Revision),
			"name":     t.Actor.Schematic.Name,
			"state":    t.Actor.State.String(),
			"payload":  payload,
			"versions": versions,
		})
		if err != nil {
			return fmt.Errorf("run cypher: %w", err)
		}
		record, err := result.Single(ctx)
		if err != nil {
			return fmt.Errorf("query single result: %w", err)
		}
		newer, err := getRecordProperty[bool](record, "newer")
		if err != nil {
			return fmt.Errorf("get newer: %w", err)
		}
		if !newer {
			replayedRecordCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("record", "actor")))
		}
		return nil
	})
}

// LoadSample replays the sample's log up to the given versionstamp.
func (s *Store) LoadSample(ctx context.Context, id braid.SampleID, versionstamp uint64) (*braid.Sample, error) {
	ctx, span := tracer.Start(ctx, "LoadSample", trace.WithAttributes(
		attribute.String("neo4j.database", s.database),
		attribute.Stringer("sample.id", id),
	))
	defer span.End()

	upto := int64(-1)
	if versionstamp != braid.Latest {
		upto = int64(versionstamp)
	}
	var commits []braid.Commit
	err := s.read(ctx, func(tx neo4j.ManagedTransaction) error {
		result, err := tx.Run(ctx, `
			MATCH (v:SampleVersion {sample_id: $sample})
			WHERE $upto < 0 OR v.versionstamp <= $upto
			RETURN v.payload AS payload
			ORDER BY v.versionstamp
		`, map[string]any{
			"sample": id.String(),
			"upto":   upto,
		})
		if err != nil {
			return fmt.Errorf("run cypher: %w", err)
		}
		commits = commits[:0] // the transaction may be retried
		for result.Next(ctx) {
			payload, err := getRecordProperty[[]byte](result.Record(), "payload")
			if err != nil {
				return fmt.Errorf("get payload: %w", err)
			}
			c, err := braid.UnmarshalCommit(payload)
			if err != nil {
				return err
			}
			commits = append(commits, c)
		}
		return result.Err()
	})
	if err != nil {
		return nil, err
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
	err := s.read(ctx, func(tx neo4j.ManagedTransaction) error {
		result, err := tx.Run(ctx, `MATCH (a:Actor {id: $id}) RETURN a.payload AS payload`, map[string]any{
			"id": id.String(),
		})
		if err != nil {
			return fmt.Errorf("run cypher: %w", err)
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return fmt.Errorf("collect: %w", err)
		}
		if len(records) == 0 {
			return fmt.Errorf("actor %v: %w", id, braid.ErrNotFound)
		}
		payload, err = getRecordProperty[[]byte](records[0], "payload")
		if err != nil {
			return fmt.Errorf("get payload: %w", err)
		}
		return nil
	})
	if err != nil {
		return braid.Actor{}, err
	}
	return braid.UnmarshalActor(payload)
}

// Upstream returns the ids of every event the given event transitively depends
// on, across samples, as mirrored in the property graph. Unlike
// braid.Sample.Upstream, the order is unspecified.
func (s *Store) Upstream(ctx context.Context, id braid.EventID) ([]braid.EventID, error) {
	ctx, span := tracer.Start(ctx, "Upstream", trace.WithAttributes(
		attribute.String("neo4j.database", s.database),
		attribute.Stringer("event.id", id),
	))
	defer span.End()

	var ids []braid.EventID
	err := s.read(ctx, func(tx neo4j.ManagedTransaction) error {
		result, err := tx.Run(ctx, `
			MATCH (:Event {id: $id})<-[:FEEDS*]-(u:Event)
			RETURN DISTINCT u.id AS id
		`, map[string]any{"id": id.String()})
		if err != nil {
			return fmt.Errorf("run cypher: %w", err)
		}
		ids = ids[:0]
		for result.Next(ctx) {
			raw, err := getRecordProperty[string](result.Record(), "id")
			if err != nil {
				return fmt.Errorf("get id: %w", err)
			}
			u, err := braid.ParseEventID(raw)
			if err != nil {
				return err
			}
			ids = append(ids, u)
		}
		return result.Err()
	})
	return ids, err
}

// write runs work in a managed write transaction on a fresh session.
//
// The function panics if work reports errPropertyNotFound or an
// unexpectedPropertyTypeError: a Cypher query was modified without care.
func (s *Store) write(ctx context.Context, work func(tx neo4j.ManagedTransaction) error) error {
	return s.execute(ctx, neo4j.AccessModeWrite, work)
}

func (s *Store) read(ctx context.Context, work func(tx neo4j.ManagedTransaction) error) error {
	return s.execute(ctx, neo4j.AccessModeRead, work)
}

func (s *Store) execute(ctx context.Context, mode neo4j.AccessMode, work func(tx neo4j.ManagedTransaction) error) error {
	// We open a new session for every query cycle to ensure transactional isolation
	// and to prevent any state carryover between different query executions.
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: s.database,
		AccessMode:   mode,
	})
	defer func() {
		if err := sess.Close(ctx); err != nil {
			component.Logger(ctx).Error("Failed to close session", "error", err, "mode", mode)
		}
	}()

	fn := func(tx neo4j.ManagedTransaction) (any, error) { return nil, work(tx) }
	var err error
	if mode == neo4j.AccessModeWrite {
		// We use managed transactions because the neo4j SDK can provide transaction
		// management features such as retries, error handling, and deadlock resolution.
		_, err = sess.ExecuteWrite(ctx, fn)
	} else {
		_, err = sess.ExecuteRead(ctx, fn)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	} else if errors.Is(err, errPropertyNotFound) || errors.As(err, &unexpectedPropertyTypeError{}) {
		component.Logger(ctx).Error("A Cypher query was modified without care", "error", err)
		panic(fmt.Errorf("seek developer attention: neo4j cypher query: %w", err))
	} else if errors.Is(err, braid.ErrNotFound) {
		return err
	} else if err != nil {
		return fmt.Errorf("neo4j execute: %w", err)
	}
	return nil
}

// A errPropertyNotFound occurs when a property of Node/Edge is missing.
//
// When encountering this error, it most likely occurs when changing a Cypher
// query without modifying the surrounding code properly. Expect a panic
// eventually.
var errPropertyNotFound = errors.New("property not found")

// An unexpectedPropertyTypeError occurs when a property of Node/Edge has a
// runtime type that is different from the expected type. The error message
// contains the effective type of the property at runtime.
//
// When encountering this error, it most likely occurs when changing a Cypher
// query without modifying dependent code properly. Expect a panic eventually.
type unexpectedPropertyTypeError struct {
	Type reflect.Type // Effective type encountered at runtime.
}

func (e unexpectedPropertyTypeError) Error() string {
	return "unexpected property type: " + e.Type.String()
}

// The recordProperty interface defines generic constraints for supported values
// by getRecordProperty.
//
// These type constraints protect against unsupported neo4j types like int,
// uint32, etc.
type recordProperty interface {
	int64 | bool | string | []byte | neo4j.Node | []interface{}
}

func getRecordProperty[T recordProperty](record *neo4j.Record, key string) (value T, err error) {
	prop, exists := record.Get(key)
	if !exists {
		return value, errPropertyNotFound
	}
	v, ok := prop.(T)
	if !ok {
		return value, unexpectedPropertyTypeError{Type: reflect.TypeOf(prop)}
	}
	return v, nil
}

// We mirror samples into the property graph in a way that prompts us when the
// graph violates some of our basic constraints.
//
// When we suspect the graph has lost its integrity, we may no longer operate on
// it. In which case, we must immediately stop all operations. This is achieved
// with a panic preceded by telemetry signals (traces, metrics, and logs) to
// bring the situation to our immediate attention.
func panicWithCorruptedGraph(ctx context.Context, reason string) {
	component.Logger(ctx).ErrorContext(ctx, "Encountered corrupted neo4j graph that violates sample graph axioms", "error", reason)
	trace.SpanFromContext(ctx).SetStatus(codes.Error, reason)
	corruptedGraphCounter.Add(ctx, 1)
	panic(fmt.Errorf("neo4j graph violates sample graph axioms: %v", reason))
}
