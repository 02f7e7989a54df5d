// Package metrics holds the Prometheus collectors for the proximity pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SamplesIngestedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spotalert_location_samples_total",
		Help: "Foreground location samples accepted by the tracker",
	})
	TrackerTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spotalert_tracker_transitions_total",
		Help: "Foreground proximity transitions by kind",
	}, []string{"kind"})
	TrackerEventsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spotalert_tracker_events_dropped_total",
		Help: "Tracker events dropped for subscribers that fell behind",
	})
	GeofenceWakeupsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spotalert_geofence_wakeups_total",
		Help: "Geofence entry callbacks handled by the coordinator",
	})
	FixFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spotalert_fix_failures_total",
		Help: "Precise location fix requests that produced no fix",
	})
	DetectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spotalert_detections_total",
		Help: "Background fine-grained detections by result",
	}, []string{"result"})
	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spotalert_notifications_total",
		Help: "Dispatcher decisions by outcome",
	}, []string{"outcome"})
	TargetRefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spotalert_target_refresh_total",
		Help: "Target list refresh attempts by status",
	}, []string{"status"})
	TargetsLoaded = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "spotalert_targets_loaded",
		Help: "Targets in the current snapshot",
	})
)

func init() {
	prometheus.MustRegister(SamplesIngestedTotal)
	prometheus.MustRegister(TrackerTransitionsTotal)
	prometheus.MustRegister(TrackerEventsDroppedTotal)
	prometheus.MustRegister(GeofenceWakeupsTotal)
	prometheus.MustRegister(FixFailuresTotal)
	prometheus.MustRegister(DetectionsTotal)
	prometheus.MustRegister(NotificationsTotal)
	prometheus.MustRegister(TargetRefreshTotal)
	prometheus.MustRegister(TargetsLoaded)
}

// Handler exposes the registered collectors for scraping at /metrics.
func Handler() http.Handler { return promhttp.Handler() }
