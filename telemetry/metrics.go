// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	ReconcileCycles   prometheus.Counter
	ReconcileFailures *prometheus.CounterVec
	ChannelJoins      prometheus.Counter
	ChannelParts      prometheus.Counter
	ChatReconnects    prometheus.Counter
	APIRequests       *prometheus.CounterVec

	// Histograms (seconds)
	ReconcileDuration prometheus.Observer

	// Gauges
	LiveStreamers  prometheus.Gauge
	JoinedChannels prometheus.Gauge
	ChatState      prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		ReconcileCycles = promauto.NewCounter(prometheus.CounterOpts{Name: "lurkbot_reconcile_cycles_total", Help: "Number of reconciliation cycles started"})
		ReconcileFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "lurkbot_reconcile_failures_total", Help: "Number of aborted reconciliation cycles by reason"}, []string{"reason"})
		ChannelJoins = promauto.NewCounter(prometheus.CounterOpts{Name: "lurkbot_channel_joins_total", Help: "Number of JOIN commands issued"})
		ChannelParts = promauto.NewCounter(prometheus.CounterOpts{Name: "lurkbot_channel_parts_total", Help: "Number of PART commands issued"})
		ChatReconnects = promauto.NewCounter(prometheus.CounterOpts{Name: "lurkbot_chat_reconnects_total", Help: "Number of chat gateway reconnect attempts after a disconnect"})
		APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{Name: "lurkbot_twitch_api_requests_total", Help: "Twitch API requests by endpoint and status class"}, []string{"endpoint", "status"})
		ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "lurkbot_reconcile_duration_seconds", Help: "Reconciliation cycle duration seconds", Buckets: prometheus.DefBuckets})
		LiveStreamers = promauto.NewGauge(prometheus.GaugeOpts{Name: "lurkbot_live_streamers", Help: "Streamers live at the last successful cycle"})
		JoinedChannels = promauto.NewGauge(prometheus.GaugeOpts{Name: "lurkbot_joined_channels", Help: "Channels the bot is tracked as joined"})
		ChatState = promauto.NewGauge(prometheus.GaugeOpts{Name: "lurkbot_chat_state", Help: "Chat connection state (0=disconnected 1=connecting 2=authenticating 3=ready 4=disconnecting)"})
	})
}

// IncCycle counts a started reconciliation cycle.
func IncCycle() {
	if ReconcileCycles != nil {
		ReconcileCycles.Inc()
	}
}

// RecordCycleFailure counts an aborted cycle under reason.
func RecordCycleFailure(reason string) {
	if ReconcileFailures != nil {
		ReconcileFailures.WithLabelValues(reason).Inc()
	}
}

// SetMembership records the live and joined set sizes after a cycle.
func SetMembership(live, joined int) {
	if LiveStreamers != nil {
		LiveStreamers.Set(float64(live))
	}
	if JoinedChannels != nil {
		JoinedChannels.Set(float64(joined))
	}
}

func IncJoin() {
	if ChannelJoins != nil {
		ChannelJoins.Inc()
	}
}

func IncPart() {
	if ChannelParts != nil {
		ChannelParts.Inc()
	}
}

func IncReconnect() {
	if ChatReconnects != nil {
		ChatReconnects.Inc()
	}
}

// SetChatState records the numeric chat connection state.
func SetChatState(state int) {
	if ChatState != nil {
		ChatState.Set(float64(state))
	}
}

// ObserveAPIRequest counts a Twitch API call. status 0 means the request never got a response.
func ObserveAPIRequest(endpoint string, status int) {
	if APIRequests != nil {
		APIRequests.WithLabelValues(endpoint, StatusClass(status)).Inc()
	}
}

// StatusClass buckets an HTTP status code into "2xx", "4xx", ... or "error".
func StatusClass(status int) string {
	if status < 100 || status > 599 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
