// Package retry owns failed deposit records and the scheduler that retries them.
//
// Each record is keyed by (tanda, wallet, cycle) and moves through
//
//	pending_retry → retrying → resolved
//	                        ↘ pending_retry (attempts left)
//	                        ↘ failed_permanent → user_expelled
//
// Every mutation goes through Registry.Transition, a compare-and-set on the
// record status taken under the registry lock. The retry and expulsion
// strategies run outside the lock; whatever they return is applied with a
// second compare-and-set, so a concurrent Cancel or MarkAsResolved always
// wins over an in-flight attempt.
//
// Records persist in a store.KV under "deposit/<tanda>/<wallet>/<cycle>".
package retry
