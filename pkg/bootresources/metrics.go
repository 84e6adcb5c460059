package bootresources

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	importRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "maas",
		Subsystem: "boot_resources",
		Name:      "import_runs_total",
		Help:      "Import runs by outcome.",
	}, []string{"outcome"})

	filesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "maas",
		Subsystem: "boot_resources",
		Name:      "files_written_total",
		Help:      "Boot resource files whose content was written and verified.",
	})

	checksumMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "maas",
		Subsystem: "boot_resources",
		Name:      "checksum_mismatches_total",
		Help:      "Downloads discarded because the written bytes did not match the declared digest.",
	})

	streamedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "maas",
		Subsystem: "boot_resources",
		Name:      "streamed_bytes_total",
		Help:      "Bytes streamed to rack controllers from the images endpoint.",
	})
)

// Import run outcomes.
const (
	outcomeFinalized = "finalized"
	outcomeSkipped   = "skipped"
	outcomeFailed    = "failed"
)
