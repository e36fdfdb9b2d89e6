package docstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/armature-studio/armature/internal/domain/projectdoc"
	"github.com/armature-studio/armature/internal/repository"
)

// ProjectStore implements repository.ProjectStore over a key-value Store.
// Conditional writes run as read-check-write under an exclusive lease, so
// the revision guard holds even without backend transactions. Callers see
// the same false-on-mismatch contract as the SQL adapters, plus
// ErrLeaseTimeout when the lease itself cannot be acquired in time.
type ProjectStore struct {
	store  Store
	leaser *Leaser
}

func NewProjectStore(store Store, leaser *Leaser) *ProjectStore {
	return &ProjectStore{store: store, leaser: leaser}
}

func docKey(scope projectdoc.Scope) string {
	return "project/" + scope.TenantID + "/" + scope.ProjectID
}

func (s *ProjectStore) Find(ctx context.Context, scope projectdoc.Scope) (*projectdoc.Record, error) {
	value, err := s.store.Get(ctx, docKey(scope))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, fmt.Errorf("finding project %s: %w", scope, repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("finding project %s: %w", scope, err)
	}

	rec := &projectdoc.Record{}
	if err := leaseJSON.Unmarshal(value, rec); err != nil {
		return nil, fmt.Errorf("decoding project %s: %w", scope, err)
	}
	return rec, nil
}

func (s *ProjectStore) Save(ctx context.Context, rec *projectdoc.Record) error {
	value, err := leaseJSON.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding project %s: %w", rec.Scope, err)
	}
	if err := s.store.Put(ctx, docKey(rec.Scope), value); err != nil {
		return fmt.Errorf("saving project %s: %w", rec.Scope, err)
	}
	return nil
}

func (s *ProjectStore) SaveIfRevision(ctx context.Context, rec *projectdoc.Record, expectedRevision *string) (bool, error) {
	key := docKey(rec.Scope)
	value, err := leaseJSON.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("encoding project %s: %w", rec.Scope, err)
	}

	var saved bool
	err = s.leaser.WithLease(ctx, key, uuid.NewString(), func(ctx context.Context) error {
		current, err := s.store.Get(ctx, key)
		switch {
		case errors.Is(err, ErrKeyNotFound):
			if expectedRevision != nil {
				return nil
			}
		case err != nil:
			return fmt.Errorf("reading project %s: %w", rec.Scope, err)
		default:
			if expectedRevision == nil {
				return nil
			}
			stored := &projectdoc.Record{}
			if err := leaseJSON.Unmarshal(current, stored); err != nil {
				return fmt.Errorf("decoding project %s: %w", rec.Scope, err)
			}
			if stored.Revision != *expectedRevision {
				return nil
			}
		}

		if err := s.store.Put(ctx, key, value); err != nil {
			return fmt.Errorf("writing project %s: %w", rec.Scope, err)
		}
		saved = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("guarded save of project %s: %w", rec.Scope, err)
	}
	return saved, nil
}

func (s *ProjectStore) Remove(ctx context.Context, scope projectdoc.Scope) error {
	err := s.store.Delete(ctx, docKey(scope))
	if errors.Is(err, ErrKeyNotFound) {
		return fmt.Errorf("removing project %s: %w", scope, repository.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("removing project %s: %w", scope, err)
	}
	return nil
}
