// Package main serves synthetic agentgate metrics so Grafana dashboards can
// be built without running a real watch session.
package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Series mirror the names the watch status server exports.
var (
	watchEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentgate_watch_events_total",
			Help: "Settled filesystem events seen by agentgate watch.",
		},
		[]string{"op"},
	)
	watchWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentgate_watch_writes_total",
			Help: "Writes fed to the snapshotter by outcome.",
		},
		[]string{"outcome"},
	)
	activeWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentgate_active_workers",
			Help: "Live markers in the project.",
		},
	)
	releaseAllowed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentgate_release_allowed",
			Help: "1 when the proof-of-work state admits a release worker.",
		},
	)
)

var (
	ops      = []string{"write", "create", "remove", "rename"}
	outcomes = []string{"counted", "counted", "counted", "created", "skipped", "failed"}
)

func init() {
	prometheus.MustRegister(
		watchEvents,
		watchWrites,
		activeWorkers,
		releaseAllowed,
	)
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "9464"
	}

	generateSampleData()

	ctx, cancel := context.WithCancel(context.Background())
	go generateContinuousData(ctx)

	http.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              ":" + port,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		cancel()
		server.Shutdown(context.Background())
	}()

	fmt.Printf("Sample metrics server running on http://localhost:%s/metrics\n", port)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println("\nTo use with Prometheus, add this to prometheus.yml:")
	fmt.Printf("  - job_name: 'agentgate-test'\n    static_configs:\n      - targets: ['localhost:%s']\n", port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

func generateSampleData() {
	for i := 0; i < 200; i++ {
		watchEvents.WithLabelValues(randomChoice(ops)).Inc()
		watchWrites.WithLabelValues(randomChoice(outcomes)).Inc()
	}
	activeWorkers.Set(float64(rand.Intn(4)))
	releaseAllowed.Set(1)
}

func generateContinuousData(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for i := 0; i < rand.Intn(6); i++ {
				watchEvents.WithLabelValues(randomChoice(ops)).Inc()
				watchWrites.WithLabelValues(randomChoice(outcomes)).Inc()
			}
			activeWorkers.Set(float64(rand.Intn(4)))
			// proof state changes rarely
			if rand.Intn(10) == 0 {
				releaseAllowed.Set(float64(rand.Intn(2)))
			}
		}
	}
}

func randomChoice(choices []string) string {
	return choices[rand.Intn(len(choices))]
}
