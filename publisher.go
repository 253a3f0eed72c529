package braid

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/danielorbach/go-component"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gocloud.dev/pubsub"
)

// A Notification carries exactly one journal record across a message broker.
// Exactly one of its fields is set.
type Notification struct {
	Commit *Commit
	Actor  *ActorTransition
}

// Publisher is a Journal that announces every record on a pubsub topic, so
// that read replicas and stores in other processes can follow the engine.
//
// Since the engine calls its journal before a mutation becomes visible, a
// failed Send aborts the mutation. Combine a Publisher with a local Store
// using Tee when the engine must also survive a restart.
type Publisher struct {
	topic *pubsub.Topic
}

// NewPublisher returns a Publisher sending to topic.
func NewPublisher(topic *pubsub.Topic) *Publisher {
	return &Publisher{topic: topic}
}

func (p *Publisher) RecordCommit(ctx context.Context, c Commit) error {
	ctx, span := tracer.Start(ctx, "Publisher.RecordCommit", trace.WithAttributes(
		attribute.Stringer("sample.id", c.Sample),
		attribute.Int64("sample.versionstamp", int64(c.Versionstamp)),
	))
	defer span.End()

	// Messages of one sample share a key so that brokers partitioning by key (e.g.
	// Kafka) deliver its commits in versionstamp order.
	err := p.send(ctx, Notification{Commit: &c}, map[string]string{"sampleID": c.Sample.String()})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		measurePublishFailure(ctx, "commit")
		return err
	}
	component.Logger(ctx).Debug("Commit published",
		slog.Any("sample.id", c.Sample),
		slog.Uint64("sample.versionstamp", c.Versionstamp),
	)
	return nil
}

func (p *Publisher) RecordActor(ctx context.Context, t ActorTransition) error {
	ctx, span := tracer.Start(ctx, "Publisher.RecordActor", trace.WithAttributes(
		attribute.Stringer("actor.id", t.Actor.ID),
		attribute.String("actor.op", string(t.Op)),
	))
	defer span.End()

	err := p.send(ctx, Notification{Actor: &t}, map[string]string{"actorID": t.Actor.ID.String()})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		measurePublishFailure(ctx, "actor")
		return err
	}
	component.Logger(ctx).Debug("Actor transition published",
		slog.Any("actor.id", t.Actor.ID),
		slog.String("actor.op", string(t.Op)),
	)
	return nil
}

func (p *Publisher) send(ctx context.Context, n Notification, metadata map[string]string) error {
	body, err := marshalGob(n)
	if err != nil {
		return err
	}
	if err := p.topic.Send(ctx, &pubsub.Message{Body: body, Metadata: metadata}); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}
