package metrics

import "expvar"

var (
	NoncesIssued   = expvar.NewInt("nonces_issued")
	NonceFallbacks = expvar.NewInt("nonce_fallbacks")
	CacheHits      = expvar.NewInt("cache_hits")
	CacheMisses    = expvar.NewInt("cache_misses")
	PushUpdates    = expvar.NewInt("push_updates")
	APIFetches     = expvar.NewInt("api_fetches")
	APIErrors      = expvar.NewInt("api_errors")
	SnapshotSaves  = expvar.NewInt("snapshot_saves")
	SnapshotErrors = expvar.NewInt("snapshot_errors")
	HistoryWrites  = expvar.NewInt("history_writes")
	HistoryDropped = expvar.NewInt("history_dropped")
)
