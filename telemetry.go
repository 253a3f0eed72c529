package braid

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("github.com/go-digitaltwin/braid")
var meter = otel.Meter("github.com/go-digitaltwin/braid")

// Attribute keys shared by the instruments below.
const (
	eventTypeKey       = "event.type"
	rejectionReasonKey = "reason"
	actorOpKey         = "actor.op"
	actorFromKey       = "actor.from"
	actorToKey         = "actor.to"
)

var (
	// proposalDuration measures the duration of a single successful proposal,
	// from schema validation until the new snapshot is visible. It includes the
	// time spent waiting for the sample's lock and recording the commit.
	//
	// Each record is associated with the eventTypeKey.
	proposalDuration metric.Float64Histogram
	// proposalRejections counts proposals the engine refused.
	//
	// Each record is associated with the eventTypeKey and the rejectionReasonKey.
	proposalRejections metric.Int64Counter
	// actorTransitions counts committed actor transitions.
	//
	// Each record is associated with the operation and both states.
	actorTransitions metric.Int64Counter
	// publishFailures counts journal records that could not be published.
	publishFailures metric.Int64Counter
)

func init() {
	var err error
	proposalDuration, err = meter.Float64Histogram(
		"braid.proposal.duration",
		metric.WithDescription("The duration of a single committed event proposal, including lock wait and journaling."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		panic("braid: failed to init 'braid.proposal.duration' instrument")
	}

	proposalRejections, err = meter.Int64Counter(
		"braid.proposal.rejections",
		metric.WithDescription("The number of event proposals the engine refused, by reason."),
	)
	if err != nil {
		panic("braid: failed to init 'braid.proposal.rejections' instrument")
	}

	actorTransitions, err = meter.Int64Counter(
		"braid.actor.transitions",
		metric.WithDescription("The number of committed actor transitions."),
	)
	if err != nil {
		panic("braid: failed to init 'braid.actor.transitions' instrument")
	}

	publishFailures, err = meter.Int64Counter(
		"braid.publish.failures",
		metric.WithDescription("The number of journal records that could not be published."),
	)
	if err != nil {
		panic("braid: failed to init 'braid.publish.failures' instrument")
	}
}

// measureProposal records the duration of a committed proposal, or counts a
// rejected one labelled with the reason derived from its error.
//
// According to [metric] documentation, [metric.WithAttributeSet] should be used
// instead of [metric.WithAttributes] for performance optimization.
func measureProposal(ctx context.Context, t EventType, err error, d time.Duration) {
	if err == nil {
		attrs := attribute.NewSet(attribute.Stringer(eventTypeKey, t))
		// We use floating-point division here for higher precision (instead of the
		// Millisecond method).
		duration := float64(d) / float64(time.Millisecond)
		proposalDuration.Record(ctx, duration, metric.WithAttributeSet(attrs))
		return
	}
	attrs := attribute.NewSet(
		attribute.Stringer(eventTypeKey, t),
		attribute.String(rejectionReasonKey, rejectionReason(err)),
	)
	proposalRejections.Add(ctx, 1, metric.WithAttributeSet(attrs))
}

func measureActorTransition(ctx context.Context, op ActorOp, from, to ActorState) {
	attrs := attribute.NewSet(
		attribute.String(actorOpKey, string(op)),
		attribute.Stringer(actorFromKey, from),
		attribute.Stringer(actorToKey, to),
	)
	actorTransitions.Add(ctx, 1, metric.WithAttributeSet(attrs))
}

func measurePublishFailure(ctx context.Context, kind string) {
	attrs := attribute.NewSet(attribute.String("record", kind))
	publishFailures.Add(ctx, 1, metric.WithAttributeSet(attrs))
}
