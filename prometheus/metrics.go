package prometheus

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

	// HTTP request metrics
	HttpRequestsTotal   *prometheus.CounterVec
	HttpRequestDuration *prometheus.HistogramVec

	// Authentication metrics
	AuthAttemptsCounter *prometheus.CounterVec
	AuthSuccessCounter  *prometheus.CounterVec
	AuthErrorsCounter   *prometheus.CounterVec

	// Database operation metrics
	DbOperationDuration *prometheus.HistogramVec

	// Order metrics
	OrderOperationsCounter *prometheus.CounterVec
	OrderValueHistogram    prometheus.Histogram

	// Inventory metrics
	VariantStockGauge *prometheus.GaugeVec

	// Loyalty metrics
	LoyaltyPointsAwarded prometheus.Counter

	// Payment metrics
	PaymentSessionsCounter *prometheus.CounterVec

	// Cache metrics
	CacheResultsCounter *prometheus.CounterVec

	// Notification metrics
	NotificationFailuresCounter *prometheus.CounterVec

	// Product popularity metrics
	ProductViewsCounter *prometheus.CounterVec
)

// InitMetrics registers the service metrics under the given prefix. Only the
// first call has an effect.
func InitMetrics(prefix string) {
	initOnce.Do(func() {
		register(prefix)
	})
}

func register(prefix string) {
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HttpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	AuthAttemptsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"kind"},
	)

	AuthSuccessCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_auth_success_total",
			Help: "Total number of successful authentications",
		},
		[]string{"kind"},
	)

	AuthErrorsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_auth_errors_total",
			Help: "Total number of authentication errors",
		},
		[]string{"reason"},
	)

	DbOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "_db_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation_type"},
	)

	OrderOperationsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_order_operations_total",
			Help: "Total number of order operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	OrderValueHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    prefix + "_order_value",
			Help:    "Total amount of created orders",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	VariantStockGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: prefix + "_variant_stock",
			Help: "Current stock level per product variant",
		},
		[]string{"variant_id", "sku"},
	)

	LoyaltyPointsAwarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "_loyalty_points_awarded_total",
			Help: "Total loyalty points awarded for paid orders",
		},
	)

	PaymentSessionsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_payment_sessions_total",
			Help: "Total number of payment session operations",
		},
		[]string{"operation", "outcome"},
	)

	CacheResultsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_cache_results_total",
			Help: "Cache lookups by result",
		},
		[]string{"result"},
	)

	NotificationFailuresCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_notification_failures_total",
			Help: "Total number of failed notifications",
		},
		[]string{"channel"},
	)

	ProductViewsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_product_views_total",
			Help: "Total number of product detail views",
		},
		[]string{"product_id"},
	)
}

// ObserveHTTPRequest records one finished request
func ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if HttpRequestsTotal == nil {
		return
	}
	code := strconv.Itoa(status)
	HttpRequestsTotal.WithLabelValues(method, path, code).Inc()
	HttpRequestDuration.WithLabelValues(method, path, code).Observe(duration.Seconds())
}

// TrackDBOperation returns a function that records the duration of a database operation
func TrackDBOperation(operationType string) func(startTime time.Time) {
	return func(startTime time.Time) {
		if DbOperationDuration == nil {
			return
		}
		DbOperationDuration.WithLabelValues(operationType).Observe(time.Since(startTime).Seconds())
	}
}

// RecordAuthAttempt counts a login or registration attempt and its result.
// An empty reason means success.
func RecordAuthAttempt(kind, reason string) {
	if AuthAttemptsCounter == nil {
		return
	}
	AuthAttemptsCounter.WithLabelValues(kind).Inc()
	if reason == "" {
		AuthSuccessCounter.WithLabelValues(kind).Inc()
		return
	}
	AuthErrorsCounter.WithLabelValues(reason).Inc()
}

// RecordAuthError counts a rejected session
func RecordAuthError(reason string) {
	if AuthErrorsCounter == nil {
		return
	}
	AuthErrorsCounter.WithLabelValues(reason).Inc()
}

// RecordOrderOperation increments the counter for order operations
func RecordOrderOperation(operation, outcome string) {
	if OrderOperationsCounter == nil {
		return
	}
	OrderOperationsCounter.WithLabelValues(operation, outcome).Inc()
}

// ObserveOrderValue records the total of a created order
func ObserveOrderValue(total float64) {
	if OrderValueHistogram == nil {
		return
	}
	OrderValueHistogram.Observe(total)
}

// UpdateVariantStock updates the gauge for variant stock
func UpdateVariantStock(variantID uint, sku string, stock int) {
	if VariantStockGauge == nil {
		return
	}
	VariantStockGauge.WithLabelValues(strconv.FormatUint(uint64(variantID), 10), sku).Set(float64(stock))
}

// AddLoyaltyPoints counts points awarded
func AddLoyaltyPoints(points int) {
	if LoyaltyPointsAwarded == nil || points <= 0 {
		return
	}
	LoyaltyPointsAwarded.Add(float64(points))
}

// RecordPaymentSession counts payment session operations
func RecordPaymentSession(operation, outcome string) {
	if PaymentSessionsCounter == nil {
		return
	}
	PaymentSessionsCounter.WithLabelValues(operation, outcome).Inc()
}

// RecordCacheResult counts cache lookups
func RecordCacheResult(result string) {
	if CacheResultsCounter == nil {
		return
	}
	CacheResultsCounter.WithLabelValues(result).Inc()
}

// RecordNotificationFailure counts notifications that could not be delivered
func RecordNotificationFailure(channel string) {
	if NotificationFailuresCounter == nil {
		return
	}
	NotificationFailuresCounter.WithLabelValues(channel).Inc()
}

// RecordProductView increments the counter for product views
func RecordProductView(productID uint) {
	if ProductViewsCounter == nil {
		return
	}
	ProductViewsCounter.WithLabelValues(strconv.FormatUint(uint64(productID), 10)).Inc()
}

// Handler exposes the registered metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
