package metrics

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
)

// Values for "status" labels on request metrics.
const (
	StatusOK          = "ok"
	StatusFound       = "found"
	StatusError       = "error"
	StatusNotFound    = "not_found"
	StatusClientError = "client_error"
	StatusServerError = "server_error"
)

// StatusLabel buckets an HTTP status code for use as a metric label.
func StatusLabel(code int) string {
	switch {
	case code >= 200 && code < 300:
		return StatusOK
	case code == http.StatusNotFound:
		return StatusNotFound
	case code >= 400 && code < 500:
		return StatusClientError
	default:
		return StatusServerError
	}
}

// WriteTextfile dumps the default registry to path in the node_exporter
// textfile collector format. Batch runs have no scrape endpoint, so this is
// how their metrics get out. A blank path is a no-op.
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("writing metrics file: %w", err)
	}
	slog.Debug("wrote metrics file", "path", path)
	return nil
}
