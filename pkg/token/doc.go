// Package token manages the pool of provider session credentials: a
// persistent store, best-effort selection for incoming requests,
// failure-class cooldowns, and bulk out-of-band revalidation.
//
// Selection is deliberately unsynchronized across requests. Concurrent
// handlers may pick the same credential; the provider's own quota
// rejection feeds back through the pool's failure handling, so the
// state converges without a cross-request lock.
package token
