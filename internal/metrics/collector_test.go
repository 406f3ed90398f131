package metrics

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaybot/internal/bus"
	"relaybot/internal/domain"
)

func TestCollector_ConsumesRelayEvents(t *testing.T) {
	c := New()
	eb := bus.NewEventBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.Attach(eb)

	eb.Emit(bus.Event{Type: bus.EventMessageReceived, Source: "telegram"})
	eb.Emit(bus.Event{Type: bus.EventRelayCompleted, Payload: domain.RelayRecord{
		Channel: "telegram", Pipeline: domain.PipelineText, Outcome: domain.OutcomeOK, Delivered: true, LatencyMs: 120,
	}})
	eb.Emit(bus.Event{Type: bus.EventRelayCompleted, Payload: domain.RelayRecord{
		Channel: "telegram", Pipeline: domain.PipelineVision, Outcome: domain.OutcomeFailed, Delivered: false,
	}})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.MessagesReceived.WithLabelValues("telegram")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Relays.WithLabelValues("text", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Relays.WithLabelValues("vision", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.SendFailures.WithLabelValues("telegram")))
}

func TestCollector_HandlerExposesMetrics(t *testing.T) {
	c := New()
	c.TrackUsers(func() int { return 3 })
	c.GatewayError(domain.PipelineTranscription, "timeout")
	c.Begin()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "relaybot_tracked_users 3")
	assert.Contains(t, body, `relaybot_gateway_errors_total{pipeline="transcription",reason="timeout"} 1`)
	assert.Contains(t, body, "relaybot_inflight_messages 1")
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	c.Begin()
	c.End()
	c.GatewayError(domain.PipelineText, "error")
	c.TrackUsers(func() int { return 1 })
	c.Attach(nil)
	assert.Equal(t, 404, func() int {
		rec := httptest.NewRecorder()
		c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
		return rec.Code
	}())
}
