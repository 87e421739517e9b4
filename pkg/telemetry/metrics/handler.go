package metrics

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the collector's registry in the Prometheus text or
// OpenMetrics format. Scrapes themselves are counted in the same registry
// under promhttp_metric_handler_*.
func (c *Collector) Handler() http.Handler {
	h := promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		ErrorLog:          scrapeLogger{},
		ErrorHandling:     promhttp.ContinueOnError,
		EnableOpenMetrics: true,
		Registry:          c.registry,
	})
	return promhttp.InstrumentMetricHandler(c.registry, h)
}

// scrapeLogger forwards gather errors to slog.
type scrapeLogger struct{}

func (scrapeLogger) Println(v ...any) {
	slog.Warn("metrics scrape error", "error", fmt.Sprint(v...))
}
