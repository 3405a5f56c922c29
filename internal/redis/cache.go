package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheStore handles entity caching in Redis.
type CacheStore struct {
	client *redis.Client
}

// NewCacheStore creates a new CacheStore.
func NewCacheStore(client *redis.Client) *CacheStore {
	return &CacheStore{client: client}
}

// Cache TTL constants
const (
	// LedgerCacheTTL is short: remaining fuel moves with every completed
	// delivery and stale snapshots confuse drivers.
	LedgerCacheTTL = 10 * time.Second
)

const ledgerCachePrefix = "cache:ledger:"

// CachedLedger is the cached read model of a ledger with its allocations.
type CachedLedger struct {
	ID             string             `json:"id"`
	TruckID        string             `json:"truck_id"`
	DriverID       string             `json:"driver_id"`
	FuelType       string             `json:"fuel_type"`
	TotalLoaded    string             `json:"total_loaded"`
	TotalRemaining string             `json:"total_remaining"`
	IsCompleted    bool               `json:"is_completed"`
	Version        int64              `json:"version"`
	Allocations    []CachedAllocation `json:"allocations"`
}

// CachedAllocation is one allocation within a cached ledger snapshot.
type CachedAllocation struct {
	ID                string `json:"id"`
	CustomerID        string `json:"customer_id"`
	SequenceIndex     int    `json:"sequence_index"`
	AllocatedQuantity string `json:"allocated_quantity"`
	DeliveredQuantity string `json:"delivered_quantity,omitempty"`
	Status            string `json:"status"`
	MarkerInitial     string `json:"marker_initial,omitempty"`
	MarkerFinal       string `json:"marker_final,omitempty"`
}

// GetLedger retrieves a ledger snapshot from cache. Returns nil on miss.
func (s *CacheStore) GetLedger(ctx context.Context, ledgerID string) (*CachedLedger, error) {
	key := ledgerCachePrefix + ledgerID
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // Cache miss
		}
		return nil, err
	}

	var ledger CachedLedger
	if err := json.Unmarshal(data, &ledger); err != nil {
		return nil, err
	}
	return &ledger, nil
}

// SetLedger stores a ledger snapshot in cache.
func (s *CacheStore) SetLedger(ctx context.Context, ledger *CachedLedger) error {
	key := ledgerCachePrefix + ledger.ID
	data, err := json.Marshal(ledger)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, LedgerCacheTTL).Err()
}

// InvalidateLedger removes a ledger snapshot from cache. Called after every
// reconciled mutation so reads never serve a pre-delivery remaining amount
// for longer than the in-flight request.
func (s *CacheStore) InvalidateLedger(ctx context.Context, ledgerID string) error {
	key := ledgerCachePrefix + ledgerID
	return s.client.Del(ctx, key).Err()
}
