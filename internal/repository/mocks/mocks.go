package mocks

import (
	"context"
	"time"

	"github.com/armature-studio/armature/internal/domain/checkout"
	"github.com/armature-studio/armature/internal/domain/event"
	"github.com/armature-studio/armature/internal/domain/job"
	"github.com/armature-studio/armature/internal/domain/projectdoc"
	"github.com/stretchr/testify/mock"
)

// ProjectStore is a mock for repository.ProjectStore.
type ProjectStore struct {
	mock.Mock
}

func (m *ProjectStore) Find(ctx context.Context, scope projectdoc.Scope) (*projectdoc.Record, error) {
	args := m.Called(ctx, scope)
	if rec, ok := args.Get(0).(*projectdoc.Record); ok {
		return rec, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ProjectStore) Save(ctx context.Context, rec *projectdoc.Record) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *ProjectStore) SaveIfRevision(ctx context.Context, rec *projectdoc.Record, expectedRevision *string) (bool, error) {
	args := m.Called(ctx, rec, expectedRevision)
	return args.Bool(0), args.Error(1)
}

func (m *ProjectStore) Remove(ctx context.Context, scope projectdoc.Scope) error {
	args := m.Called(ctx, scope)
	return args.Error(0)
}

// LockStore is a mock for repository.LockStore.
type LockStore struct {
	mock.Mock
}

func (m *LockStore) Get(ctx context.Context, projectID string) (*checkout.Lock, error) {
	args := m.Called(ctx, projectID)
	if lock, ok := args.Get(0).(*checkout.Lock); ok {
		return lock, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *LockStore) Put(ctx context.Context, lock *checkout.Lock) error {
	args := m.Called(ctx, lock)
	return args.Error(0)
}

func (m *LockStore) Delete(ctx context.Context, projectID string) error {
	args := m.Called(ctx, projectID)
	return args.Error(0)
}

func (m *LockStore) DeleteByOwner(ctx context.Context, ownerAgentID, ownerSessionID string) ([]string, error) {
	args := m.Called(ctx, ownerAgentID, ownerSessionID)
	if ids, ok := args.Get(0).([]string); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}

// JobStore is a mock for repository.JobStore.
type JobStore struct {
	mock.Mock
}

func (m *JobStore) Create(ctx context.Context, j *job.Job) error {
	args := m.Called(ctx, j)
	return args.Error(0)
}

func (m *JobStore) Get(ctx context.Context, jobID string) (*job.Job, error) {
	args := m.Called(ctx, jobID)
	if j, ok := args.Get(0).(*job.Job); ok {
		return j, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *JobStore) ListByProject(ctx context.Context, projectID string) ([]job.Job, error) {
	args := m.Called(ctx, projectID)
	if jobs, ok := args.Get(0).([]job.Job); ok {
		return jobs, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *JobStore) ClaimNext(ctx context.Context, workerID, claimToken string, now time.Time) (*job.Job, error) {
	args := m.Called(ctx, workerID, claimToken, now)
	if j, ok := args.Get(0).(*job.Job); ok {
		return j, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *JobStore) MarkCompleted(ctx context.Context, jobID, claimToken string, result []byte, now time.Time) (bool, error) {
	args := m.Called(ctx, jobID, claimToken, result, now)
	return args.Bool(0), args.Error(1)
}

func (m *JobStore) MarkFailed(ctx context.Context, jobID, claimToken, errMsg string, now time.Time) (bool, error) {
	args := m.Called(ctx, jobID, claimToken, errMsg, now)
	return args.Bool(0), args.Error(1)
}

func (m *JobStore) DeleteByProject(ctx context.Context, projectID string) error {
	args := m.Called(ctx, projectID)
	return args.Error(0)
}

// EventStore is a mock for repository.EventStore.
type EventStore struct {
	mock.Mock
}

func (m *EventStore) Append(ctx context.Context, projectID, name string, data []byte, at time.Time) (int64, error) {
	args := m.Called(ctx, projectID, name, data, at)
	return args.Get(0).(int64), args.Error(1)
}

func (m *EventStore) Since(ctx context.Context, projectID string, afterSeq int64) ([]event.Event, error) {
	args := m.Called(ctx, projectID, afterSeq)
	if events, ok := args.Get(0).([]event.Event); ok {
		return events, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *EventStore) DeleteByProject(ctx context.Context, projectID string) error {
	args := m.Called(ctx, projectID)
	return args.Error(0)
}
