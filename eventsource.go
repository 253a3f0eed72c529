package braid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/danielorbach/go-component"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gocloud.dev/pubsub"
)

// Replicate returns a component.Proc that receives the notifications a
// Publisher sends and records each one in j, typically a Store of a read
// replica.
//
// A message is acknowledged only after j recorded it. Since delivery is
// at-least-once, j sees replays and must tolerate them (as every Journal must).
// Failing to record a message stops the procedure, so that no later record of
// the same sample is applied out of order.
func Replicate(sub *pubsub.Subscription, j Journal) component.Proc {
	return func(l *component.L) {
		logger := component.Logger(l.Context())
		for l.Continue() {
			msg, err := sub.Receive(l.GraceContext())
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
					// we're shutting down
					return
				}
				l.Fatal(fmt.Errorf("receive: %w", err))
			}

			if err := handleNotification(l.GraceContext(), j, msg); err != nil {
				logger.Error("Couldn't replicate notification", slog.Any("error", err))
				l.Fatal(err)
			}
			msg.Ack()
		}
	}
}

func handleNotification(ctx context.Context, j Journal, msg *pubsub.Message) error {
	ctx, span := tracer.Start(ctx, "Replicate.handleNotification", trace.WithAttributes(
		attribute.String("msg.id", msg.LoggableID),
	))
	defer span.End()

	err := applyNotification(ctx, j, msg.Body)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func applyNotification(ctx context.Context, j Journal, body []byte) error {
	var n Notification
	if err := unmarshalGob(body, &n); err != nil {
		return err
	}
	switch {
	case n.Commit != nil:
		if err := j.RecordCommit(ctx, *n.Commit); err != nil {
			return fmt.Errorf("record commit: %w", err)
		}
	case n.Actor != nil:
		if err := j.RecordActor(ctx, *n.Actor); err != nil {
			return fmt.Errorf("record actor: %w", err)
		}
	default:
		return fmt.Errorf("empty notification")
	}
	return nil
}
