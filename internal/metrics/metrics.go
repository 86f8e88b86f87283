// Package metrics holds the OTEL instruments the ingestion and book
// assembly pipeline records against. It creates instruments only — no
// exporter, collector or provider bootstrapping lives here; whatever
// MeterProvider/TracerProvider the embedding host installs globally
// (including the OTEL no-op default) is what backs these instruments.
// Exporter wiring is hosting glue, out of scope for this module.
package metrics

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/lattice-q/l2book"

// Pipeline holds every counter/histogram the ingestion and book
// assembly components record against, plus the shared tracer used for
// REST/WS request spans.
type Pipeline struct {
	Tracer trace.Tracer

	MessagesReceived   metric.Int64Counter
	ParseErrors        metric.Int64Counter
	SequenceRejections metric.Int64Counter
	BufferOverflows    metric.Int64Counter
	Reconnects         metric.Int64Counter
	IngestLagMillis    metric.Int64Histogram
}

// New creates a Pipeline's instruments against the global MeterProvider.
func New() (*Pipeline, error) {
	meter := otel.Meter(instrumentationName)

	messagesReceived, err := meter.Int64Counter("l2book.messages_received",
		metric.WithDescription("WS messages received"))
	if err != nil {
		return nil, err
	}
	parseErrors, err := meter.Int64Counter("l2book.parse_errors",
		metric.WithDescription("messages that failed to parse"))
	if err != nil {
		return nil, err
	}
	sequenceRejections, err := meter.Int64Counter("l2book.sequence_rejections",
		metric.WithDescription("incremental batches rejected for a continuity violation"))
	if err != nil {
		return nil, err
	}
	bufferOverflows, err := meter.Int64Counter("l2book.buffer_overflows",
		metric.WithDescription("pre-snapshot buffer entries and WS raw-inbox messages dropped for overflow"))
	if err != nil {
		return nil, err
	}
	reconnects, err := meter.Int64Counter("l2book.ws_reconnects",
		metric.WithDescription("WS connection reconnect attempts"))
	if err != nil {
		return nil, err
	}
	ingestLag, err := meter.Int64Histogram("l2book.ingest_lag_ms",
		metric.WithDescription("time between a batch's venue event time and its apply time"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		Tracer:             otel.Tracer(instrumentationName),
		MessagesReceived:   messagesReceived,
		ParseErrors:        parseErrors,
		SequenceRejections: sequenceRejections,
		BufferOverflows:    bufferOverflows,
		Reconnects:         reconnects,
		IngestLagMillis:    ingestLag,
	}, nil
}
