package archive

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bunsuihq/bunsui/internal/domain"
	"github.com/bunsuihq/bunsui/internal/store/tabular"
)

type memStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	history  map[string][]tabular.JobHistoryRecord
	deleted  []string
}

func newMemStore() *memStore {
	return &memStore{
		sessions: map[string]*domain.Session{},
		history:  map[string][]tabular.JobHistoryRecord{},
	}
}

func (m *memStore) PutSession(ctx context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.SessionID] = s
	return nil
}

func (m *memStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return s, nil
}

func (m *memStore) ListSessions(ctx context.Context, filter tabular.SessionFilter) ([]*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Session
	for _, s := range m.sessions {
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *memStore) DeleteSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	m.deleted = append(m.deleted, sessionID)
	return nil
}

func (m *memStore) AppendJobHistory(ctx context.Context, rec tabular.JobHistoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[rec.SessionID] = append(m.history[rec.SessionID], rec)
	return nil
}

func (m *memStore) ListJobHistory(ctx context.Context, sessionID string) ([]tabular.JobHistoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history[sessionID], nil
}

func (m *memStore) ListFailedJobs(ctx context.Context, limit int32) ([]tabular.JobHistoryRecord, error) {
	return nil, nil
}

func (m *memStore) PutPipeline(ctx context.Context, p *domain.Pipeline) error { return nil }
func (m *memStore) GetPipeline(ctx context.Context, pipelineID, version string) (*domain.Pipeline, error) {
	return nil, nil
}
func (m *memStore) ListPipelinesByUser(ctx context.Context, userID string, limit int32) ([]*domain.Pipeline, error) {
	return nil, nil
}
func (m *memStore) EnsureTables(ctx context.Context) error { return nil }

type fakeExporter struct {
	mu      sync.Mutex
	batches [][]Record
	err     error
}

func (f *fakeExporter) Export(ctx context.Context, batch []Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, batch)
	return nil
}

func oldSession(id string, status domain.SessionStatus, age time.Duration) *domain.Session {
	updated := time.Now().UTC().Add(-age)
	return &domain.Session{
		SessionID:  id,
		PipelineID: "pipe-1",
		Status:     status,
		UpdatedAt:  updated,
	}
}

func TestSweepArchivesOnlyStaleTerminalSessions(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.PutSession(context.Background(), oldSession("old-done", domain.SessionCompleted, 48*time.Hour)))
	require.NoError(t, store.PutSession(context.Background(), oldSession("fresh-done", domain.SessionCompleted, time.Minute)))
	require.NoError(t, store.PutSession(context.Background(), oldSession("old-running", domain.SessionRunning, 48*time.Hour)))

	exp := &fakeExporter{}
	sweeper := NewSweeper(store, 24*time.Hour, zap.NewNop(), exp)

	n, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, exp.batches, 1)
	require.Len(t, exp.batches[0], 1)
	assert.Equal(t, "old-done", exp.batches[0][0].Session.SessionID)

	assert.Contains(t, store.deleted, "old-done")
	assert.NotContains(t, store.deleted, "fresh-done")
	assert.NotContains(t, store.deleted, "old-running")
}

func TestSweepSkipsDeleteWhenExportFails(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.PutSession(context.Background(), oldSession("old-failed", domain.SessionFailed, 48*time.Hour)))

	exp := &fakeExporter{err: assert.AnError}
	sweeper := NewSweeper(store, 24*time.Hour, zap.NewNop(), exp)

	_, err := sweeper.Sweep(context.Background())
	assert.Error(t, err)
	assert.Empty(t, store.deleted)
}

func TestSweepNoStaleSessionsIsNoop(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.PutSession(context.Background(), oldSession("fresh", domain.SessionCompleted, time.Minute)))

	exp := &fakeExporter{}
	sweeper := NewSweeper(store, 24*time.Hour, zap.NewNop(), exp)

	n, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, exp.batches)
}

func TestArchiveKeyIsPartitionedByDate(t *testing.T) {
	at := time.Date(2026, 3, 5, 10, 30, 0, 0, time.UTC)
	key := archiveKey(at)
	assert.Equal(t, "archive/sessions/2026/03/05/103000.000000000.json", key)
}
