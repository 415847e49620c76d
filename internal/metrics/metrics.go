// Package metrics registers the pipeline's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	EventsDecodedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "launchpilot_events_decoded_total",
		Help: "Token creation events decoded from factory logs",
	})

	DecodeErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "launchpilot_decode_errors_total",
		Help: "Factory logs skipped because they could not be decoded",
	})

	ListenerReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "launchpilot_listener_reconnects_total",
		Help: "Log subscription reconnect attempts",
	})

	BackfilledLogsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "launchpilot_backfilled_logs_total",
		Help: "Logs recovered with eth_getLogs after a reconnect",
	})

	BuysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "launchpilot_buys_total",
		Help: "Buy attempts by result",
	}, []string{"result"})

	SellsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "launchpilot_sells_total",
		Help: "Sell attempts by result",
	}, []string{"result"})

	SellsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "launchpilot_sells_in_flight",
		Help: "Sell items currently holding a seller slot",
	})

	SellsParked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "launchpilot_sells_parked",
		Help: "Sell items waiting for selling to resume",
	})

	SellingPaused = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "launchpilot_selling_paused",
		Help: "1 while selling is paused",
	})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "launchpilot_queue_depth",
		Help: "Items buffered between pipeline stages",
	}, []string{"queue"})

	FeeFloorGwei = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "launchpilot_fee_floor_gwei",
		Help: "Latest base fee, or gas price where the chain reports no base fee",
	})

	PriorityFeeGwei = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "launchpilot_priority_fee_gwei",
		Help: "Latest priority fee used for new transactions",
	})

	NonceResyncsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "launchpilot_nonce_resyncs_total",
		Help: "Times the local nonce sequence was dropped and re-read from the node",
	})
)

const (
	ResultSuccess   = "success"
	ResultFailure   = "failure"
	ResultSkipped   = "skipped"
	ResultDuplicate = "duplicate"
)
