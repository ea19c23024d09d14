package funding

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RunsTotal - прогоны агрегатора по результату
var RunsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "alphawave",
		Subsystem: "funding",
		Name:      "runs_total",
		Help:      "Total number of funding rate aggregation runs",
	},
	[]string{"result"}, // success, failed
)

// RunDuration - длительность полного прогона
var RunDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "alphawave",
		Subsystem: "funding",
		Name:      "run_duration_seconds",
		Help:      "Duration of a full funding rate aggregation run",
		Buckets:   []float64{1, 5, 10, 20, 30, 60, 120, 300},
	},
)

// StageRecords - число записей на выходе стадии последнего прогона
var StageRecords = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "alphawave",
		Subsystem: "funding",
		Name:      "stage_records",
		Help:      "Number of records produced by each stage in the last run",
	},
	[]string{"stage"}, // fetch, selected, enriched, top
)

// FetchErrors - отброшенные запросы
var FetchErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "alphawave",
		Subsystem: "funding",
		Name:      "fetch_errors_total",
		Help:      "Number of dropped exchange requests",
	},
	[]string{"exchange", "stage"}, // stage: symbols, funding, enrich
)

// RecordRun записывает результат прогона
func RecordRun(ok bool, d time.Duration) {
	if !ok {
		RunsTotal.WithLabelValues("failed").Inc()
		return
	}
	RunsTotal.WithLabelValues("success").Inc()
	RunDuration.Observe(d.Seconds())
}

// RecordStage обновляет размер стадии
func RecordStage(stage string, n int) {
	StageRecords.WithLabelValues(stage).Set(float64(n))
}

// RecordFetchError записывает отброшенный запрос
func RecordFetchError(exchange, stage string) {
	FetchErrors.WithLabelValues(exchange, stage).Inc()
}
