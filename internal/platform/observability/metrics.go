package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BackupJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backup_jobs_total",
		Help: "Backup jobs by lifecycle status",
	}, []string{"status"})

	BackupItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backup_items_total",
		Help: "Processed message ids by outcome",
	}, []string{"outcome"})

	BackupQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backup_queue_depth",
		Help: "Number of jobs waiting in the backup queue",
	})

	DownloadStages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backup_download_stage_total",
		Help: "Download fallback stage attempts by stage and result",
	}, []string{"stage", "result"})

	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backup_deliveries_total",
		Help: "Delivery attempts by route and result",
	}, []string{"route", "result"})

	FloodWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backup_flood_waits_total",
		Help: "Server-demanded waits by call site",
	}, []string{"stage"})

	FloodWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "backup_flood_wait_seconds",
		Help:    "Duration of server-demanded waits",
		Buckets: []float64{1, 5, 10, 30, 60, 300, 900, 3600},
	})

	PeerResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backup_peer_resolve_total",
		Help: "Peer resolver stage attempts by stage and result",
	}, []string{"stage", "result"})

	CommandsHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backup_commands_total",
		Help: "Owner commands handled",
	}, []string{"command"})
)

// Result label values.
const (
	ResultOK   = "ok"
	ResultFail = "fail"
)

// ResultLabel maps an error to a result label.
func ResultLabel(err error) string {
	if err != nil {
		return ResultFail
	}

	return ResultOK
}
