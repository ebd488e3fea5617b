package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	metricsOnce sync.Once

	commandsTotal     *prometheus.CounterVec
	triggerReplies    prometheus.Counter
	broadcastSent     prometheus.Counter
	broadcastSkipped  *prometheus.CounterVec
	broadcastDuration prometheus.Observer
	mediaLookups      *prometheus.CounterVec
	mediaFetchErrors  *prometheus.CounterVec
	storeWrites       *prometheus.CounterVec
)

// initMetrics registers metrics (idempotent). Until it is called every
// helper below is a no-op, which keeps tests free of global registration.
func initMetrics() {
	metricsOnce.Do(func() {
		commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "quotebot_commands_total", Help: "Commands handled, by command and outcome"}, []string{"command", "outcome"})
		triggerReplies = promauto.NewCounter(prometheus.CounterOpts{Name: "quotebot_trigger_replies_total", Help: "Automatic replies sent for trigger or quote matches"})
		broadcastSent = promauto.NewCounter(prometheus.CounterOpts{Name: "quotebot_broadcast_sent_total", Help: "Scheduled quotes delivered"})
		broadcastSkipped = promauto.NewCounterVec(prometheus.CounterOpts{Name: "quotebot_broadcast_skipped_total", Help: "Guilds skipped during a broadcast, by reason"}, []string{"reason"})
		broadcastDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "quotebot_broadcast_duration_seconds", Help: "Duration of one broadcast fire", Buckets: prometheus.DefBuckets})
		mediaLookups = promauto.NewCounterVec(prometheus.CounterOpts{Name: "quotebot_media_lookups_total", Help: "Media cache lookups, by result"}, []string{"result"})
		mediaFetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{Name: "quotebot_media_fetch_errors_total", Help: "Upstream media search failures, by kind"}, []string{"kind"})
		storeWrites = promauto.NewCounterVec(prometheus.CounterOpts{Name: "quotebot_store_writes_total", Help: "Config store writes, by outcome"}, []string{"outcome"})
	})
}

func observeCommand(name, outcome string) {
	if commandsTotal != nil {
		commandsTotal.WithLabelValues(name, outcome).Inc()
	}
}

func observeTriggerReply() {
	if triggerReplies != nil {
		triggerReplies.Inc()
	}
}

func observeBroadcastSent() {
	if broadcastSent != nil {
		broadcastSent.Inc()
	}
}

func observeBroadcastSkip(reason string) {
	if broadcastSkipped != nil {
		broadcastSkipped.WithLabelValues(reason).Inc()
	}
}

func observeBroadcastDuration(d time.Duration) {
	if broadcastDuration != nil {
		broadcastDuration.Observe(d.Seconds())
	}
}

func observeMediaLookup(result string) {
	if mediaLookups != nil {
		mediaLookups.WithLabelValues(result).Inc()
	}
}

func observeMediaError(kind string) {
	if mediaFetchErrors != nil {
		mediaFetchErrors.WithLabelValues(kind).Inc()
	}
}

func observeStoreWrite(err error) {
	if storeWrites == nil {
		return
	}
	if err != nil {
		storeWrites.WithLabelValues("error").Inc()
		return
	}
	storeWrites.WithLabelValues("ok").Inc()
}

// serveMetrics exposes /metrics on addr until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("metrics server failed", slog.Any("err", err))
	}
}
