package fsm

import (
	"context"
	"fmt"

	"github.com/zeebo/xxh3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// startChangeStateSpan starts the span covering one state change. The caller
// is responsible for calling span.End().
//
//nolint:spancheck // Span lifecycle managed by caller
func startChangeStateSpan(ctx context.Context, machine, id, from, to string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer("fsm").Start(ctx, "fsm.change_state")
	span.SetAttributes(
		attribute.String("machine", machine),
		attribute.String("machine_id_hash", hashID(id)),
		attribute.String("from", from),
		attribute.String("to", to),
	)

	return ctx, span
}

// hashID shortens a machine ID to a fixed-width hex string for span
// attributes.
func hashID(id string) string {
	if id == "" {
		return ""
	}

	return fmt.Sprintf("%016x", xxh3.HashString(id))
}
