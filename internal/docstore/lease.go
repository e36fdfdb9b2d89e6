package docstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/armature-studio/armature/internal/repository"
)

var leaseJSON = jsoniter.ConfigCompatibleWithStandardLibrary

type leaseRecord struct {
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LeaserConfig tunes the lease protocol. Zero values fall back to defaults
// chosen so a crashed holder stalls writers for at most TTL.
type LeaserConfig struct {
	// TTL is how long an acquired lease stays valid before any other writer
	// may reclaim it.
	TTL time.Duration
	// RetryInterval is the pause between acquisition attempts while another
	// writer holds the lease.
	RetryInterval time.Duration
	// AcquireTimeout bounds the total time spent acquiring before the
	// operation fails with ErrLeaseTimeout.
	AcquireTimeout time.Duration
}

const (
	defaultLeaseTTL       = 5 * time.Second
	defaultRetryInterval  = 50 * time.Millisecond
	defaultAcquireTimeout = 2 * time.Second
)

// Leaser grants short-lived exclusive leases over keys in a Store. The
// exactly-one-winner guarantee comes from Store.Insert; everything else is
// expiry bookkeeping layered on top.
type Leaser struct {
	store Store
	cfg   LeaserConfig
	now   func() time.Time
}

func NewLeaser(store Store, cfg LeaserConfig) *Leaser {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultLeaseTTL
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = defaultAcquireTimeout
	}
	return &Leaser{store: store, cfg: cfg, now: time.Now}
}

// LeaseKey derives the deterministic lease key for a document key, so every
// writer of the same document contends on the same lease.
func LeaseKey(docKey string) string {
	sum := sha256.Sum256([]byte(docKey))
	return "lease/" + hex.EncodeToString(sum[:])
}

// WithLease runs fn while holding an exclusive lease over docKey. The lease
// is released on return; a lease left behind by a crashed holder is
// reclaimed once its TTL passes. Acquisition that cannot complete within
// AcquireTimeout fails with repository.ErrLeaseTimeout.
func (l *Leaser) WithLease(ctx context.Context, docKey, owner string, fn func(ctx context.Context) error) error {
	key := LeaseKey(docKey)

	if err := l.acquire(ctx, key, owner); err != nil {
		return err
	}

	fnErr := fn(ctx)

	if err := l.release(ctx, key, owner); err != nil && fnErr == nil {
		fnErr = err
	}
	return fnErr
}

func (l *Leaser) acquire(ctx context.Context, key, owner string) error {
	deadline := l.now().Add(l.cfg.AcquireTimeout)

	for {
		ok, err := l.tryAcquire(ctx, key, owner)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if l.now().After(deadline) {
			return fmt.Errorf("acquiring lease %s: %w", key, repository.ErrLeaseTimeout)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("acquiring lease %s: %w", key, ctx.Err())
		case <-time.After(l.cfg.RetryInterval):
		}
	}
}

func (l *Leaser) tryAcquire(ctx context.Context, key, owner string) (bool, error) {
	rec := leaseRecord{Owner: owner, ExpiresAt: l.now().Add(l.cfg.TTL).UTC()}
	value, err := leaseJSON.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("encoding lease %s: %w", key, err)
	}

	err = l.store.Insert(ctx, key, value)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, ErrKeyExists) {
		return false, fmt.Errorf("acquiring lease %s: %w", key, err)
	}

	// Someone holds it. Reclaim only if their lease expired.
	current, err := l.store.Get(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		// Released between our Insert and Get; next attempt races again.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading lease %s: %w", key, err)
	}

	var held leaseRecord
	if err := leaseJSON.Unmarshal(current, &held); err != nil {
		return false, fmt.Errorf("decoding lease %s: %w", key, err)
	}
	if l.now().Before(held.ExpiresAt) {
		return false, nil
	}

	// Expired. Delete-then-insert is racy but safe: losing either step just
	// means another writer won the reclaim.
	if err := l.store.Delete(ctx, key); err != nil && !errors.Is(err, ErrKeyNotFound) {
		return false, fmt.Errorf("reclaiming lease %s: %w", key, err)
	}
	err = l.store.Insert(ctx, key, value)
	if errors.Is(err, ErrKeyExists) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reclaiming lease %s: %w", key, err)
	}
	return true, nil
}

func (l *Leaser) release(ctx context.Context, key, owner string) error {
	current, err := l.store.Get(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("releasing lease %s: %w", key, err)
	}

	var held leaseRecord
	if err := leaseJSON.Unmarshal(current, &held); err != nil {
		return fmt.Errorf("releasing lease %s: %w", key, err)
	}
	// Only the owner may release; a reclaimed lease belongs to someone else.
	if held.Owner != owner {
		return nil
	}

	if err := l.store.Delete(ctx, key); err != nil && !errors.Is(err, ErrKeyNotFound) {
		return fmt.Errorf("releasing lease %s: %w", key, err)
	}
	return nil
}
