package tanda

import "github.com/google/uuid"

// IDGenerator produces ids for provisional tandas.
type IDGenerator interface {
	Generate() string
}

// LocalIDGenerator generates "local_" + UUIDv7 ids.
//
// UUIDv7 embeds a timestamp, so provisional tandas sort by creation time
// in the cache until the ledger assigns the real id.
//
// Thread-safety: LocalIDGenerator is stateless and safe for concurrent use.
type LocalIDGenerator struct{}

// Generate creates a new provisional id. Panics if UUID generation fails.
func (LocalIDGenerator) Generate() string {
	return LocalIDPrefix + uuid.Must(uuid.NewV7()).String()
}
