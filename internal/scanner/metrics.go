package scanner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// scanCycles counts scan cycles by result: unchanged, archived, deferred, failed.
	scanCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snapvault_scan_cycles_total",
		Help: "Total scan cycles by result",
	}, []string{"result"})

	// archivesTotal counts archives referenced by a ledger record.
	archivesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snapvault_archives_total",
		Help: "Total archives written for recorded scans",
	})

	// scanDuration tracks listing plus sizing time.
	scanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "snapvault_scan_duration_seconds",
		Help:    "Scan duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
	})

	// restoresTotal counts restores by result.
	restoresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snapvault_restores_total",
		Help: "Total restores by result",
	}, []string{"result"})
)
