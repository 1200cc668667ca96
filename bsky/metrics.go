package bsky

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var xrpcRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "bridgyfollowers_xrpc_requests_total",
	Help: "XRPC requests made to the source network",
}, []string{"endpoint", "status"})

var xrpcRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "bridgyfollowers_xrpc_request_duration_seconds",
	Help:    "Time to complete an XRPC request",
	Buckets: prometheus.ExponentialBucketsRange(0.01, 30, 12),
}, []string{"endpoint"})
