package board

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	mutationSpanName    = "board.mutation"
	mutationEventName   = "board.mutation.result"
	mutationEventDomain = "board"
)

// mutationMetrics records one mutation round-trip as a span plus a structured
// observability event. Callers must invoke Log exactly once with the outcome.
type mutationMetrics struct {
	logger *log.Logger
	span   trace.Span
	start  time.Time
	op     string
	taskID string
}

func newMutationMetrics(ctx context.Context, logger *log.Logger, op, taskID string) (*mutationMetrics, context.Context) {
	tracer := otel.Tracer("board-sync/board")
	ctx, span := tracer.Start(ctx, mutationSpanName, trace.WithAttributes(
		attribute.String("board.mutation.op", op),
		attribute.String("board.mutation.task_id", taskID),
	))
	return &mutationMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
		op:     op,
		taskID: taskID,
	}, ctx
}

func (m *mutationMetrics) Log(err error) {
	if m == nil {
		return
	}

	totalMs := float64(time.Since(m.start)) / float64(time.Millisecond)
	severityText, severityNumber := "INFO", 9
	if err != nil {
		severityText, severityNumber = "ERROR", 17
	}

	attrs := []attribute.KeyValue{
		attribute.String("event.name", mutationEventName),
		attribute.String("event.domain", mutationEventDomain),
		attribute.String("severity_text", severityText),
		attribute.Float64("board.mutation.total_ms", totalMs),
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
		m.span.SetStatus(codes.Error, err.Error())
	} else {
		m.span.SetStatus(codes.Ok, "")
	}
	m.span.AddEvent("observability.event", trace.WithAttributes(attrs...))
	m.span.End()

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      mutationEventName,
		"event.domain":    mutationEventDomain,
		"op":              m.op,
		"task_id":         m.taskID,
		"total_ms":        totalMs,
		"severity_text":   severityText,
		"severity_number": severityNumber,
	}
	if sc := m.span.SpanContext(); sc.HasTraceID() {
		fields["trace_id"] = sc.TraceID().String()
	}
	if err != nil {
		fields["error"] = err.Error()
		m.logger.WithFields(fields).Error("observability.event")
		return
	}
	m.logger.WithFields(fields).Info("observability.event")
}
