package cache

import (
	"context"
	"time"
)

// Tiered composes the local tier with an optional remote tier. Reads go
// through L1 first and promote remote hits into L1; writes go to both tiers.
// With a nil remote it behaves exactly like the local tier.
type Tiered struct {
	l1 Store
	l2 Store

	// promoteTTL bounds how long a promoted remote hit lives locally. The
	// remote entry's remaining lifetime is not readable through the Store
	// contract, so promotions get a fresh short lease.
	promoteTTL time.Duration
}

// NewTiered composes the tiers. l2 may be nil.
func NewTiered(l1 Store, l2 Store) *Tiered {
	return &Tiered{l1: l1, l2: l2, promoteTTL: time.Minute}
}

func (t *Tiered) Get(ctx context.Context, key string) (interface{}, bool) {
	if value, ok := t.l1.Get(ctx, key); ok {
		return value, true
	}
	if t.l2 == nil {
		return nil, false
	}
	value, ok := t.l2.Get(ctx, key)
	if !ok {
		return nil, false
	}
	t.l1.Set(ctx, key, value, t.promoteTTL)
	return value, true
}

func (t *Tiered) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	t.l1.Set(ctx, key, value, ttl)
	if t.l2 != nil {
		t.l2.Set(ctx, key, value, ttl)
	}
}

func (t *Tiered) Delete(ctx context.Context, key string) {
	t.l1.Delete(ctx, key)
	if t.l2 != nil {
		t.l2.Delete(ctx, key)
	}
}

func (t *Tiered) Clear(ctx context.Context) {
	t.l1.Clear(ctx)
	if t.l2 != nil {
		t.l2.Clear(ctx)
	}
}

// Stats reports the local tier, which fields every request.
func (t *Tiered) Stats() Stats {
	return t.l1.Stats()
}

// RemoteStats reports the remote tier when one is configured.
func (t *Tiered) RemoteStats() (Stats, bool) {
	if t.l2 == nil {
		return Stats{}, false
	}
	return t.l2.Stats(), true
}

func (t *Tiered) Close() error {
	err := t.l1.Close()
	if t.l2 != nil {
		if l2err := t.l2.Close(); err == nil {
			err = l2err
		}
	}
	return err
}
