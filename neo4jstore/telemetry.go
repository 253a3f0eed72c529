package neo4jstore

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("github.com/go-digitaltwin/braid/neo4jstore")
var meter = otel.Meter("github.com/go-digitaltwin/braid/neo4jstore")

var (
	// corruptedGraphCounter counts how many times the store stopped on a graph
	// that violates the sample graph axioms. Any non-zero value needs a human.
	corruptedGraphCounter metric.Int64Counter
	// replayedRecordCounter counts journal records the store had already stored,
	// e.g. redelivered notifications.
	replayedRecordCounter metric.Int64Counter
)

func init() {
	// We're initiating the metric instruments on the otel meter. Encounter an error
	// during an instrument's initialisation, triggering a panic. This scenario
	// should not occur, if it does, it is likely related to the attributes applied
	// on the instrument.
	var err error
	corruptedGraphCounter, err = meter.Int64Counter(
		"neo4jstore_corrupted_graph_counter",
		metric.WithDescription("how many times the store encountered a graph violating sample graph axioms"),
	)
	if err != nil {
		s := fmt.Sprintf("neo4jstore: failed to init 'neo4jstore_corrupted_graph_counter' instrument: %v", err)
		panic(s)
	}

	replayedRecordCounter, err = meter.Int64Counter(
		"neo4jstore_replayed_record_counter",
		metric.WithDescription("how many journal records were recorded again"),
	)
	if err != nil {
		s := fmt.Sprintf("neo4jstore: failed to init 'neo4jstore_replayed_record_counter' instrument: %v", err)
		panic(s)
	}
}
