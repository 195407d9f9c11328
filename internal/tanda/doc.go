// Package tanda defines the data model shared by every part of the
// reconciliation engine: the cached Tanda snapshot, its participants, the
// user's reputation record and the typed errors the engine returns.
//
// A Tanda is owned by the external ledger. The client holds a read-mostly
// copy plus, while offline, provisional copies whose ids carry the "local_"
// prefix until the next successful sync.
package tanda
