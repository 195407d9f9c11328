package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// GetJSON loads key and decodes it into v. Returns ErrNotFound unchanged.
func GetJSON(ctx context.Context, kv KV, key string, v any) error {
	data, err := kv.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %q: %w", key, err)
	}
	return nil
}

// PutJSON encodes v and stores it under key.
// HTML escaping is disabled so wallet addresses and names round-trip verbatim.
func PutJSON(ctx context.Context, kv KV, key string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return kv.Set(ctx, key, bytes.TrimSpace(buf.Bytes()))
}
