package crawler

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for the Integrated Crawler.
var (
	crawlArticlesProcessedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crawler_articles_processed_total",
		Help: "Total number of articles the crawler attempted to fetch and extract",
	})
	crawlArticlesSucceededTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crawler_articles_succeeded_total",
		Help: "Total number of articles successfully extracted",
	})
	crawlArticlesFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crawler_articles_failed_total",
		Help: "Total number of articles that failed extraction",
	})
	crawlArticlesSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crawler_articles_skipped_total",
		Help: "Total number of articles skipped because they already exist",
	})
)

func init() {
	prometheus.MustRegister(
		crawlArticlesProcessedTotal,
		crawlArticlesSucceededTotal,
		crawlArticlesFailedTotal,
		crawlArticlesSkippedTotal,
	)
}
