package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName      = "prism-board/api"
	requestSpanName = "board.request"
	requestEvent    = "board.request.metrics"
)

// requestMetrics collects per-request timings and reports them as one log
// entry and one span.
type requestMetrics struct {
	logger       *log.Logger
	span         trace.Span
	start        time.Time
	route        string
	method       string
	loadDuration time.Duration
	saveDuration time.Duration
	version      int64
	boards       int
	errorStage   string
	err          error
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, route, method string) (*requestMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, requestSpanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.route", route),
			attribute.String("http.method", method),
		),
	)
	return &requestMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
		route:  route,
		method: method,
	}, ctx
}

func (m *requestMetrics) ObserveLoad(d time.Duration) {
	if d > 0 {
		m.loadDuration = d
	}
}

func (m *requestMetrics) ObserveSave(d time.Duration) {
	if d > 0 {
		m.saveDuration = d
	}
}

func (m *requestMetrics) SetDocument(version int64, boards int) {
	m.version = version
	m.boards = boards
}

// Fail records the stage a request failed in and the cause, if any.
func (m *requestMetrics) Fail(stage string, err error) {
	if stage != "" {
		m.errorStage = stage
	}
	if err != nil {
		m.err = err
	}
}

func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	if err == nil {
		err = m.err
	}
	total := durationToMillis(time.Since(m.start))
	severity, number := severityForStatus(status, err)

	attrs := []attribute.KeyValue{
		attribute.Int("http.status_code", status),
		attribute.Int64("board.version", m.version),
		attribute.Int("board.count", m.boards),
		attribute.Float64("board.total_ms", total),
		attribute.String("severity_text", severity),
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("board.error_stage", m.errorStage))
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
	}
	var traceID string
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.HasTraceID() {
			traceID = sc.TraceID().String()
		}
		m.span.SetAttributes(attrs...)
		m.span.AddEvent(requestEvent, trace.WithAttributes(attrs...))
		if err != nil || status >= http.StatusInternalServerError {
			desc := http.StatusText(status)
			if err != nil {
				desc = err.Error()
			}
			m.span.SetStatus(codes.Error, desc)
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"route":           m.route,
		"method":          m.method,
		"status":          status,
		"total_ms":        total,
		"version":         m.version,
		"boards":          m.boards,
		"severity_text":   severity,
		"severity_number": number,
	}
	if m.loadDuration > 0 {
		fields["load_ms"] = durationToMillis(m.loadDuration)
	}
	if m.saveDuration > 0 {
		fields["save_ms"] = durationToMillis(m.saveDuration)
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	if traceID != "" {
		fields["trace_id"] = traceID
	}
	entry := m.logger.WithFields(fields)
	switch severity {
	case "ERROR":
		entry.Error(requestEvent)
	case "WARN":
		entry.Warn(requestEvent)
	default:
		entry.Info(requestEvent)
	}
}

// severityForStatus maps a response to OpenTelemetry severity text and number.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	case err != nil:
		return "ERROR", 17
	}
	return "INFO", 9
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
