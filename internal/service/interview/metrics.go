package interview

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/zhouzirui/ai-interviewer/backend/interview"

// Turn outcomes recorded on interview.turns.
const (
	outcomeResponded = "responded"
	outcomeDegraded  = "degraded"
	outcomeDiscarded = "discarded"
	outcomeFailed    = "failed"
)

// Pipeline stages recorded on interview.stage.duration.
const (
	stageTranscribe = "transcribe"
	stageRespond    = "respond"
	stageSynthesize = "synthesize"
)

type turnMetrics struct {
	turns    metric.Int64Counter
	duration metric.Float64Histogram
}

// newTurnMetrics binds to the global meter provider. Instruments created before
// telemetry is installed are delegated once a provider is set.
func newTurnMetrics(meter metric.Meter) *turnMetrics {
	m := &turnMetrics{}

	var err error
	m.turns, err = meter.Int64Counter("interview.turns",
		metric.WithDescription("Completed interview turns by outcome"))
	if err != nil {
		log.Printf("[interview] failed to create turn counter: %v", err)
	}
	m.duration, err = meter.Float64Histogram("interview.stage.duration",
		metric.WithDescription("Collaborator call latency per pipeline stage"),
		metric.WithUnit("s"))
	if err != nil {
		log.Printf("[interview] failed to create stage histogram: %v", err)
	}
	return m
}

var defaultTurnMetrics = newTurnMetrics(otel.Meter(meterName))

func (m *turnMetrics) recordTurn(ctx context.Context, outcome string) {
	if m == nil || m.turns == nil {
		return
	}
	m.turns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *turnMetrics) recordStage(ctx context.Context, stage string, started time.Time) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.Record(ctx, time.Since(started).Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
}
