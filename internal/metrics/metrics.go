// Package metrics registers the Prometheus collectors exported by the server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "testimonialwall"

	OutcomeServed      = "served"
	OutcomeEmpty       = "empty"
	OutcomeNotFound    = "not_found"
	OutcomeUnavailable = "unavailable"

	RecordKindTestimonial = "testimonial"
	RecordKindConfigField = "config_field"

	CacheResultHit  = "hit"
	CacheResultMiss = "miss"

	SaveResultSaved   = "saved"
	SaveResultRetried = "retried"
	SaveResultFailed  = "failed"
)

// Collectors holds every metric the service records. A nil *Collectors records nothing.
type Collectors struct {
	widgetDataRequests  *prometheus.CounterVec
	malformedRecords    *prometheus.CounterVec
	payloadCacheLookups *prometheus.CounterVec
	configSaves         *prometheus.CounterVec
	pendingSaves        prometheus.Gauge
	httpRequestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with registerer.
func New(registerer prometheus.Registerer) (*Collectors, error) {
	collectors := &Collectors{
		widgetDataRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "widget_data_requests_total",
				Help:      "Widget payload lookups by outcome.",
			},
			[]string{"outcome"},
		),
		malformedRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "malformed_records_total",
				Help:      "Stored records skipped at the read boundary.",
			},
			[]string{"kind"},
		),
		payloadCacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "widget_payload_cache_lookups_total",
				Help:      "Widget payload cache lookups by result.",
			},
			[]string{"result"},
		),
		configSaves: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "widget_config_saves_total",
				Help:      "Widget configuration save attempts by result.",
			},
			[]string{"result"},
		),
		pendingSaves: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "widget_config_pending_saves",
				Help:      "Widget configuration saves waiting for the background flush.",
			},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by route.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}

	for _, collector := range []prometheus.Collector{
		collectors.widgetDataRequests,
		collectors.malformedRecords,
		collectors.payloadCacheLookups,
		collectors.configSaves,
		collectors.pendingSaves,
		collectors.httpRequestDuration,
	} {
		if registerErr := registerer.Register(collector); registerErr != nil {
			return nil, registerErr
		}
	}
	return collectors, nil
}

func (collectors *Collectors) ObserveWidgetData(outcome string) {
	if collectors == nil {
		return
	}
	collectors.widgetDataRequests.WithLabelValues(outcome).Inc()
}

func (collectors *Collectors) ObserveMalformedRecord(kind string) {
	if collectors == nil {
		return
	}
	collectors.malformedRecords.WithLabelValues(kind).Inc()
}

func (collectors *Collectors) ObservePayloadCache(result string) {
	if collectors == nil {
		return
	}
	collectors.payloadCacheLookups.WithLabelValues(result).Inc()
}

func (collectors *Collectors) ObserveConfigSave(result string) {
	if collectors == nil {
		return
	}
	collectors.configSaves.WithLabelValues(result).Inc()
}

func (collectors *Collectors) SetPendingSaves(count int) {
	if collectors == nil {
		return
	}
	collectors.pendingSaves.Set(float64(count))
}

func (collectors *Collectors) ObserveHTTPRequest(method string, route string, status string, seconds float64) {
	if collectors == nil {
		return
	}
	collectors.httpRequestDuration.WithLabelValues(method, route, status).Observe(seconds)
}

// WidgetDataRequests exposes the counter for assertions.
func (collectors *Collectors) WidgetDataRequests() *prometheus.CounterVec {
	return collectors.widgetDataRequests
}

// MalformedRecords exposes the counter for assertions.
func (collectors *Collectors) MalformedRecords() *prometheus.CounterVec {
	return collectors.malformedRecords
}

// ConfigSaves exposes the counter for assertions.
func (collectors *Collectors) ConfigSaves() *prometheus.CounterVec {
	return collectors.configSaves
}
