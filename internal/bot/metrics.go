package bot

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики торгового цикла
// ============================================================

// ============ Метрики состояния ============

// OpenPositions - текущее количество позиций в книге
var OpenPositions = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "alphawave",
		Subsystem: "trading",
		Name:      "open_positions",
		Help:      "Current number of open positions held by the bot",
	},
)

// RealizedPnl - накопленный реализованный PnL в валюте котировки
var RealizedPnl = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "alphawave",
		Subsystem: "trading",
		Name:      "realized_pnl",
		Help:      "Realized PnL accumulated since start",
	},
)

// ============ Счётчики событий ============

// CyclesTotal - торговые циклы по результату
var CyclesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "alphawave",
		Subsystem: "trading",
		Name:      "cycles_total",
		Help:      "Total number of trading cycles",
	},
	[]string{"result"}, // ok, skipped, error
)

// SignalsTotal - сгенерированные сигналы
var SignalsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "alphawave",
		Subsystem: "trading",
		Name:      "signals_total",
		Help:      "Total number of generated signals",
	},
	[]string{"signal"},
)

// OrdersTotal - ордера по стадии протокола и результату
var OrdersTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "alphawave",
		Subsystem: "trading",
		Name:      "orders_total",
		Help:      "Total number of market orders",
	},
	[]string{"action", "stage", "result"},
)

// OrderLatency - время от размещения до подтверждённой цены исполнения
var OrderLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "alphawave",
		Subsystem: "trading",
		Name:      "order_latency_ms",
		Help:      "Time from order placement to confirmed fill in milliseconds",
		Buckets:   []float64{50, 100, 200, 300, 500, 1000, 2000, 5000, 10000},
	},
	[]string{"action"},
)

// RiskTriggers - срабатывания тейк-профита и стоп-лосса
var RiskTriggers = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "alphawave",
		Subsystem: "risk",
		Name:      "triggers_total",
		Help:      "Number of take profit and stop loss triggers",
	},
	[]string{"reason"},
)

// ============ Вспомогательные функции ============

// RecordOrder записывает результат ордера
func RecordOrder(action string, stage OrderStage, ok bool, latency time.Duration) {
	result := "success"
	if !ok {
		result = "failed"
	}
	OrdersTotal.WithLabelValues(action, string(stage), result).Inc()
	if ok {
		OrderLatency.WithLabelValues(action).Observe(float64(latency.Milliseconds()))
	}
}

// RecordCycle записывает результат торгового цикла
func RecordCycle(result string) {
	CyclesTotal.WithLabelValues(result).Inc()
}

// RecordSignal записывает сгенерированный сигнал
func RecordSignal(signal string) {
	SignalsTotal.WithLabelValues(signal).Inc()
}

// RecordRiskTrigger записывает срабатывание TP/SL
func RecordRiskTrigger(reason string) {
	RiskTriggers.WithLabelValues(reason).Inc()
}
