package metrics

import "time"

// Source labels for external lookups.
const (
	SourceLedger      = "ledger"
	SourceEntitlement = "entitlement"
	SourceAccounting  = "accounting"
	SourceProfile     = "profile"
)

// CacheHit records a fresh cache hit.
func CacheHit(cache string) {
	QuotaCacheRequests.WithLabelValues(cache, "hit").Inc()
}

// CacheMiss records a cache miss (empty, stale, other user or other tier).
func CacheMiss(cache string) {
	QuotaCacheRequests.WithLabelValues(cache, "miss").Inc()
}

// LookupCompleted records the latency of an external lookup.
func LookupCompleted(source string, duration time.Duration) {
	QuotaLookupDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// LookupFailed records a failed external lookup.
func LookupFailed(source string) {
	QuotaSourceFailures.WithLabelValues(source).Inc()
}

// Resolved records which source decided a reconciled quota.
func Resolved(source string) {
	QuotaResolutions.WithLabelValues(source).Inc()
}
