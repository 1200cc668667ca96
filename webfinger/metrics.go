package webfinger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var lookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "bridgyfollowers_webfinger_lookups_total",
	Help: "WebFinger account lookups, by outcome",
}, []string{"status"})

var lookupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "bridgyfollowers_webfinger_lookup_duration_seconds",
	Help:    "Time to complete a WebFinger lookup",
	Buckets: prometheus.ExponentialBucketsRange(0.01, 30, 12),
})
