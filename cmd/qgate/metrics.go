package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/steveyegge/qgate/internal/escalation"
	"github.com/steveyegge/qgate/internal/storage"
	"github.com/steveyegge/qgate/internal/storage/sqlite"
)

var metricsAddr string

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Serve persisted gate state as Prometheus metrics",
	Long: `Serve the persisted escalation, breaker and cost state on /metrics.

The state database is read on every scrape, so values reflect the hook
invocations that ran since the last scrape.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}

		statePath := storage.ProjectPath(a.root, a.settings.StatePath)
		store, err := sqlite.New(statePath)
		if err != nil {
			return fmt.Errorf("failed to open state store: %w", err)
		}
		defer store.Close()

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			newStateCollector(store, a.settings.WindowSize, a.logger),
		)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.ListenAndServe()
		}()
		fmt.Fprintf(cmd.ErrOrStderr(), "Serving %s on %s/metrics\n", statePath, metricsAddr)

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	metricsCmd.Flags().StringVar(&metricsAddr, "addr", ":9464", "listen address")
	rootCmd.AddCommand(metricsCmd)
}

type snapshotLoader interface {
	Load(ctx context.Context) (*sqlite.Snapshot, error)
}

// stateCollector exposes a stored snapshot as gauges
type stateCollector struct {
	store      snapshotLoader
	windowSize int
	logger     *slog.Logger

	checks    *prometheus.Desc
	escalated *prometheus.Desc
	refusals  *prometheus.Desc
	calls     *prometheus.Desc
	cost      *prometheus.Desc
	threshold *prometheus.Desc
	rate      *prometheus.Desc
	open      *prometheus.Desc
	failures  *prometheus.Desc
	up        *prometheus.Desc
}

func newStateCollector(store snapshotLoader, windowSize int, logger *slog.Logger) *stateCollector {
	return &stateCollector{
		store:      store,
		windowSize: windowSize,
		logger:     logger,
		checks: prometheus.NewDesc("qgate_state_checks",
			"Recorded file checks", []string{"result"}, nil),
		escalated: prometheus.NewDesc("qgate_state_escalated_checks",
			"Checks the controller escalated", nil, nil),
		refusals: prometheus.NewDesc("qgate_state_refusals",
			"Escalations refused before a call", nil, nil),
		calls: prometheus.NewDesc("qgate_state_invocations",
			"Reasoning calls in the retained history", nil, nil),
		cost: prometheus.NewDesc("qgate_state_cost_usd",
			"Estimated reasoning spend", []string{"period"}, nil),
		threshold: prometheus.NewDesc("qgate_state_threshold",
			"Current escalation complexity threshold", nil, nil),
		rate: prometheus.NewDesc("qgate_state_window_escalation_rate",
			"Escalation rate over the rolling window", nil, nil),
		open: prometheus.NewDesc("qgate_state_circuit_open",
			"1 when the reasoning circuit breaker is open", nil, nil),
		failures: prometheus.NewDesc("qgate_state_consecutive_failures",
			"Consecutive reasoning failures", nil, nil),
		up: prometheus.NewDesc("qgate_state_up",
			"1 when the state database could be read", nil, nil),
	}
}

func (c *stateCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.checks, c.escalated, c.refusals, c.calls, c.cost,
		c.threshold, c.rate, c.open, c.failures, c.up,
	} {
		ch <- d
	}
}

func (c *stateCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snap, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Warn("failed to load state", "error", err)
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 1)

	l := snap.Ledger
	ch <- prometheus.MustNewConstMetric(c.checks, prometheus.GaugeValue, float64(l.TotalChecks), "all")
	ch <- prometheus.MustNewConstMetric(c.checks, prometheus.GaugeValue, float64(l.ChecksWithErrors), "errors")
	ch <- prometheus.MustNewConstMetric(c.escalated, prometheus.GaugeValue, float64(l.EscalatedChecks))
	ch <- prometheus.MustNewConstMetric(c.refusals, prometheus.GaugeValue, float64(l.Refusals))
	ch <- prometheus.MustNewConstMetric(c.calls, prometheus.GaugeValue, float64(len(l.Invocations)))
	ch <- prometheus.MustNewConstMetric(c.cost, prometheus.GaugeValue, l.TotalCost, "total")
	ch <- prometheus.MustNewConstMetric(c.cost, prometheus.GaugeValue, l.MonthCost, "month")

	window := escalation.NewRollingWindow(c.windowSize)
	window.Replace(snap.Controller.Window)
	ch <- prometheus.MustNewConstMetric(c.threshold, prometheus.GaugeValue, float64(snap.Controller.Threshold))
	ch <- prometheus.MustNewConstMetric(c.rate, prometheus.GaugeValue, window.RollingEscalationRate())

	open := 0.0
	if snap.Breaker.IsOpen {
		open = 1
	}
	ch <- prometheus.MustNewConstMetric(c.open, prometheus.GaugeValue, open)
	ch <- prometheus.MustNewConstMetric(c.failures, prometheus.GaugeValue, float64(snap.Breaker.ConsecutiveFailures))
}
