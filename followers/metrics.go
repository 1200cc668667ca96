package followers

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var classified = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "bridgyfollowers_classified_total",
	Help: "Followers classified, by final status",
}, []string{"status"})

var passDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "bridgyfollowers_pass_duration_seconds",
	Help:    "Time spent in each classification pass",
	Buckets: prometheus.ExponentialBucketsRange(0.001, 600, 14),
}, []string{"pass"})
