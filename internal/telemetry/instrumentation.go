package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Span attributes feed metrics, so keep them bounded: operation names, statuses and
// client types only. Item keys, filenames and URLs belong in logs.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation wraps fn in a span tagged with component, outcome and any
// extra attributes.
func (t *Telemetry) InstrumentOperation(
	ctx context.Context, operationName, component string, fn InstrumentedFunc, attrs ...attribute.KeyValue,
) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, operationName)

	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)
	span.SetAttributes(attrs...)

	err := fn(ctx)

	status := statusOf(err)
	if err != nil {
		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", time.Since(start).Seconds()),
	)

	return err
}

// InstrumentStoreOperation instruments record store operations.
func (t *Telemetry) InstrumentStoreOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "store_"+operation, "record_store", fn)

	t.RecordStoreOperation(ctx, operation, statusOf(err), time.Since(start))

	return err
}

// InstrumentSessionOperation instruments session client operations.
func (t *Telemetry) InstrumentSessionOperation(ctx context.Context, client, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	err := t.InstrumentOperation(ctx, "session_"+operation, "session_client", fn,
		attribute.String("client.type", client),
		attribute.String("client.operation", operation),
	)

	t.RecordSessionOperation(ctx, client, operation, statusOf(err))

	return err
}

// InstrumentDownload instruments the single-item download protocol.
func (t *Telemetry) InstrumentDownload(ctx context.Context, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()

	if t.downloadsActive != nil {
		t.downloadsActive.Add(ctx, 1)
		defer t.downloadsActive.Add(ctx, -1)
	}

	err := t.InstrumentOperation(ctx, "download_item", "downloader", fn)

	t.RecordDownload(ctx, statusOf(err), time.Since(start))

	return err
}

// InstrumentTransfer instruments a single fetch.
func (t *Telemetry) InstrumentTransfer(ctx context.Context, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	if t.transfersActive != nil {
		t.transfersActive.Add(ctx, 1)
		defer t.transfersActive.Add(ctx, -1)
	}

	err := t.InstrumentOperation(ctx, "transfer_fetch", "transfer", fn)

	t.RecordTransfer(ctx, statusOf(err))

	return err
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}

	return "success"
}
