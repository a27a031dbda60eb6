// Package metrics exposes entitlement counters in the Prometheus text format.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yllada/vpn-licensing/entitlement"
)

const namespace = "entitlement"

// Recorder implements entitlement.Metrics on a private registry.
type Recorder struct {
	registry    *prometheus.Registry
	reloads     *prometheus.CounterVec
	reviews     *prometheus.CounterVec
	revocations *prometheus.CounterVec
}

var _ entitlement.Metrics = (*Recorder)(nil)

// New creates a Recorder with all counters registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipt_reloads_total",
			Help:      "Receipt reloads by result.",
		}, []string{"result"}),
		reviews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reviews_total",
			Help:      "Purchase reviews, split by whether anything was revoked.",
		}, []string{"revoked"}),
		revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revocations_total",
			Help:      "Profile changes made by reviews.",
		}, []string{"kind"}),
	}
	r.registry.MustRegister(r.reloads, r.reviews, r.revocations)
	return r
}

// ReceiptReloaded counts a reload attempt.
func (r *Recorder) ReceiptReloaded(ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	r.reloads.WithLabelValues(result).Inc()
}

// PurchasesReviewed counts a completed review.
func (r *Recorder) PurchasesReviewed(revoked bool) {
	r.reviews.WithLabelValues(strconv.FormatBool(revoked)).Inc()
}

// Revoked counts one revocation.
func (r *Recorder) Revoked(kind entitlement.RevocationKind) {
	r.revocations.WithLabelValues(string(kind)).Inc()
}

// Handler serves the registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
