package cachestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Get returns an empty string, and no error, for a missing key.
type CacheStore interface {
	Get(ctx context.Context, name, key string) (string, error)
	Set(ctx context.Context, name, key string, val string) error
	Purge(ctx context.Context, name, key string) error
}

// Reads a timestamp written by SetTime. The bool is false when the key is missing.
func GetTime(ctx context.Context, c CacheStore, name, key string) (time.Time, bool, error) {
	raw, err := c.Get(ctx, name, key)
	if err != nil || raw == "" {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("cached timestamp %s/%s: %w", name, key, err)
	}
	return t, true, nil
}

func SetTime(ctx context.Context, c CacheStore, name, key string, t time.Time) error {
	return c.Set(ctx, name, key, t.UTC().Format(time.RFC3339Nano))
}

// Decodes a JSON value into out. Returns false when the key is missing.
func GetJSON(ctx context.Context, c CacheStore, name, key string, out any) (bool, error) {
	raw, err := c.Get(ctx, name, key)
	if err != nil || raw == "" {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("cached value %s/%s: %w", name, key, err)
	}
	return true, nil
}

func SetJSON(ctx context.Context, c CacheStore, name, key string, val any) error {
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return c.Set(ctx, name, key, string(b))
}
