package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/flowgate/internal/config"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		BlockRateThreshold:  0.25,
		QueueDepthThreshold: 50,
	})

	snap := &MetricsSnapshot{
		BlockRate:     0.05,
		QueueDepth:    3,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_BlockRate(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		BlockRateThreshold:  0.25,
		QueueDepthThreshold: 50,
	})

	snap := &MetricsSnapshot{
		BlockRate:     0.4,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertBlockRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
}

func TestAlerter_Evaluate_QueueDepth(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		BlockRateThreshold:  0.25,
		QueueDepthThreshold: 50,
	})

	snap := &MetricsSnapshot{
		QueueDepth:    72,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertQueueDepth, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "72")
}

func TestAlerter_Evaluate_ExhaustedBackfill(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		BlockRateThreshold:  0.25,
		QueueDepthThreshold: 50,
	})

	snap := &MetricsSnapshot{
		ExhaustedBackfill: 2,
		LookbackHours:     24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertExhaustedBackfill, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "2 backfill")
}

func TestAlerter_Evaluate_OpenBreakers(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		BlockRateThreshold:  0.25,
		QueueDepthThreshold: 50,
	})

	snap := &MetricsSnapshot{
		OpenBreakers:  []string{"player_summary", "team_rollup"},
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertBreakerOpen, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "player_summary")
	assert.Contains(t, alerts[0].Message, "team_rollup")
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		BlockRateThreshold:  0.25,
		QueueDepthThreshold: 50,
	})

	snap := &MetricsSnapshot{
		BlockRate:         0.5,
		QueueDepth:        100,
		ExhaustedBackfill: 1,
		OpenBreakers:      []string{"player_summary"},
		LookbackHours:     24,
	}

	alerts := a.Evaluate(snap)
	assert.Len(t, alerts, 4)
}

func TestAlerter_SendAlerts(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var alert Alert
		require.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL})
	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertBlockRate, Severity: "high", Message: "test"},
		{Type: AlertQueueDepth, Severity: "medium", Message: "test"},
	})
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL})
	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertBlockRate, Severity: "high", Message: "test"},
	})
	assert.Zero(t, sent)
}

func TestAlerter_SendAlerts_NoWebhookConfigured(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertBlockRate, Severity: "high", Message: "test"},
	})
	assert.Zero(t, sent)
}
