// Package metrics holds the Prometheus collectors for the sync service.
//
// Exposed series:
//   - floatsync_orders_evaluated_total            orders priced during reconciliation
//   - floatsync_reposition_decisions_total{decision}  move|hold
//   - floatsync_cancels_total{result}             ok|failed
//   - floatsync_placements_total{result}          ok|failed
//   - floatsync_settlements_total{status}         finished|canceled|expired
//   - floatsync_sync_runs_total{trigger,result}   timer|live|manual x ok|error
//   - floatsync_sync_run_duration_seconds{trigger}
//   - floatsync_cycle_timeouts_total
//   - floatsync_notifications_total{kind,result}  delivered|failed|skipped
//   - floatsync_ws_state                          listener state as a number
//   - floatsync_ws_reconnects_total
//   - floatsync_ws_subscriptions                  active subscription keys
//   - floatsync_debounce_fires_total
//   - floatsync_chaos_injected_total{op,fault}   delay|drop
//
// Collectors are registered in init() and served at /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ordersEvaluated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "floatsync_orders_evaluated_total",
			Help: "Pending orders priced during reconciliation",
		},
	)

	repositionDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "floatsync_reposition_decisions_total",
			Help: "Reposition decisions by outcome",
		},
		[]string{"decision"}, // move|hold
	)

	cancels = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "floatsync_cancels_total",
			Help: "Batch cancel entries by result",
		},
		[]string{"result"},
	)

	placements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "floatsync_placements_total",
			Help: "Batch placement entries by result",
		},
		[]string{"result"},
	)

	settlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "floatsync_settlements_total",
			Help: "Orders that left the pending state",
		},
		[]string{"status"},
	)

	syncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "floatsync_sync_runs_total",
			Help: "Reconciliation runs by trigger and result",
		},
		[]string{"trigger", "result"},
	)

	syncRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "floatsync_sync_run_duration_seconds",
			Help:    "Wall time of reconciliation runs",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 30, 45, 60},
		},
		[]string{"trigger"},
	)

	cycleTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "floatsync_cycle_timeouts_total",
			Help: "Scheduled cycles that exceeded their deadline",
		},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "floatsync_notifications_total",
			Help: "Notifications by kind and delivery result",
		},
		[]string{"kind", "result"},
	)

	wsState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "floatsync_ws_state",
			Help: "Live listener state (0 disconnected, 1 connecting, 2 connected, 3 listening)",
		},
	)

	wsReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "floatsync_ws_reconnects_total",
			Help: "Live listener reconnect attempts",
		},
	)

	wsSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "floatsync_ws_subscriptions",
			Help: "Active live subscription keys",
		},
	)

	debounceFires = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "floatsync_debounce_fires_total",
			Help: "Market-scoped runs triggered after debounce",
		},
	)

	chaosInjected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "floatsync_chaos_injected_total",
			Help: "Faults injected into exchange calls",
		},
		[]string{"op", "fault"},
	)
)

func init() {
	prometheus.MustRegister(ordersEvaluated, repositionDecisions, cancels, placements, settlements)
	prometheus.MustRegister(syncRuns, syncRunDuration, cycleTimeouts)
	prometheus.MustRegister(notifications)
	prometheus.MustRegister(wsState, wsReconnects, wsSubscriptions, debounceFires)
	prometheus.MustRegister(chaosInjected)
}

func IncOrdersEvaluated() { ordersEvaluated.Inc() }

func IncRepositionDecision(move bool) {
	if move {
		repositionDecisions.WithLabelValues("move").Inc()
		return
	}
	repositionDecisions.WithLabelValues("hold").Inc()
}

func AddCancels(ok, failed int) {
	cancels.WithLabelValues("ok").Add(float64(ok))
	cancels.WithLabelValues("failed").Add(float64(failed))
}

func AddPlacements(ok, failed int) {
	placements.WithLabelValues("ok").Add(float64(ok))
	placements.WithLabelValues("failed").Add(float64(failed))
}

func IncSettlement(status string) { settlements.WithLabelValues(status).Inc() }

// ObserveSyncRun records one reconciliation run.
func ObserveSyncRun(trigger string, seconds float64, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	syncRuns.WithLabelValues(trigger, result).Inc()
	syncRunDuration.WithLabelValues(trigger).Observe(seconds)
}

func IncCycleTimeout() { cycleTimeouts.Inc() }

func IncNotification(kind, result string) { notifications.WithLabelValues(kind, result).Inc() }

func SetWSState(v int)         { wsState.Set(float64(v)) }
func IncWSReconnect()          { wsReconnects.Inc() }
func SetWSSubscriptions(n int) { wsSubscriptions.Set(float64(n)) }
func IncDebounceFire()         { debounceFires.Inc() }

func IncChaosInjected(op, fault string) { chaosInjected.WithLabelValues(op, fault).Inc() }
