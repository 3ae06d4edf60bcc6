package logs

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bunsuihq/bunsui/internal/compiler"
	"github.com/bunsuihq/bunsui/internal/domain"
	"github.com/bunsuihq/bunsui/internal/scheduler"
	"github.com/bunsuihq/bunsui/internal/session"
	"github.com/bunsuihq/bunsui/internal/store/object"
	"github.com/bunsuihq/bunsui/internal/store/tabular"
)

type memObjectStore struct {
	objects map[string][]byte
}

func newMemObjectStore() *memObjectStore { return &memObjectStore{objects: map[string][]byte{}} }

func (m *memObjectStore) Put(_ context.Context, key string, body io.Reader, _ int64, _ object.PutOptions) error {
	buf, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.objects[key] = buf
	return nil
}

func (m *memObjectStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	buf, ok := m.objects[key]
	if !ok {
		return nil, assert.AnError
	}
	return io.NopCloser(bytes.NewReader(buf)), nil
}

func (m *memObjectStore) Delete(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func (m *memObjectStore) DeletePrefix(_ context.Context, prefix string) (int, error) {
	n := 0
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			delete(m.objects, k)
			n++
		}
	}
	return n, nil
}

func (m *memObjectStore) List(_ context.Context, prefix string) ([]string, error) {
	var out []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *memObjectStore) PresignGet(context.Context, string, time.Duration) (string, error) {
	return "", nil
}

func (m *memObjectStore) EnsureBucket(context.Context) error { return nil }

type memSessionStore struct {
	sessions map[string]*domain.Session
}

func (m *memSessionStore) PutSession(_ context.Context, s *domain.Session) error {
	m.sessions[s.SessionID] = s
	return nil
}
func (m *memSessionStore) GetSession(_ context.Context, id string) (*domain.Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, assert.AnError
	}
	return s, nil
}
func (m *memSessionStore) ListSessions(context.Context, tabular.SessionFilter) ([]*domain.Session, error) {
	return nil, nil
}
func (m *memSessionStore) DeleteSession(context.Context, string) error { return nil }
func (m *memSessionStore) AppendJobHistory(context.Context, tabular.JobHistoryRecord) error {
	return nil
}
func (m *memSessionStore) ListJobHistory(context.Context, string) ([]tabular.JobHistoryRecord, error) {
	return nil, nil
}
func (m *memSessionStore) ListFailedJobs(context.Context, int32) ([]tabular.JobHistoryRecord, error) {
	return nil, nil
}
func (m *memSessionStore) PutPipeline(context.Context, *domain.Pipeline) error { return nil }
func (m *memSessionStore) GetPipeline(context.Context, string, string) (*domain.Pipeline, error) {
	return nil, nil
}
func (m *memSessionStore) ListPipelinesByUser(context.Context, string, int32) ([]*domain.Pipeline, error) {
	return nil, nil
}
func (m *memSessionStore) EnsureTables(context.Context) error { return nil }

type noopScheduler struct{}

func (noopScheduler) EnsureStateMachine(context.Context, *compiler.StateMachine) (string, error) {
	return "", nil
}
func (noopScheduler) StartExecution(context.Context, string, string, map[string]any) (string, error) {
	return "", nil
}
func (noopScheduler) DescribeExecution(context.Context, string) (*scheduler.Execution, error) {
	return nil, nil
}
func (noopScheduler) StopExecution(context.Context, string, string) error { return nil }
func (noopScheduler) GetExecutionHistory(context.Context, string) ([]scheduler.ExecutionEvent, error) {
	return nil, nil
}
func (noopScheduler) ListExecutions(context.Context, string) ([]scheduler.Execution, error) {
	return nil, nil
}
func (noopScheduler) ExecutionSummary(context.Context, string) (scheduler.ExecutionSummary, error) {
	return scheduler.ExecutionSummary{}, nil
}

func newTestService(t *testing.T) (*Service, *memObjectStore, string) {
	t.Helper()
	objects := newMemObjectStore()
	store := &memSessionStore{sessions: map[string]*domain.Session{}}
	mgr := session.NewManager(store, noopScheduler{}, nil)

	s, err := mgr.CreateSession(context.Background(), "pipe-1", "etl", "user-1", 1, nil, nil)
	require.NoError(t, err)

	return NewService(objects, mgr), objects, s.SessionID
}

func putLogBatch(t *testing.T, objects *memObjectStore, sessionID string, at time.Time, lines []string) {
	t.Helper()
	key := object.SessionLogKey(sessionID, at)
	objects.objects[key] = []byte(strings.Join(lines, "\n") + "\n")
}

func jsonLine(level, message, jobID string, at time.Time) string {
	return `{"timestamp":"` + at.UTC().Format(time.RFC3339Nano) + `","level":"` + level +
		`","message":"` + message + `","logger":"worker","pid":42,"hostname":"host-1","context":{"job_id":"` + jobID + `"}}`
}

func TestSessionLogsParsesFiltersAndSorts(t *testing.T) {
	svc, objects, sessionID := newTestService(t)
	base := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)

	putLogBatch(t, objects, sessionID, base, []string{
		jsonLine("INFO", "extract started", "extract", base),
		jsonLine("ERROR", "extract failed", "extract", base.Add(2*time.Second)),
	})
	putLogBatch(t, objects, sessionID, base.Add(time.Minute), []string{
		jsonLine("INFO", "load started", "load", base.Add(time.Second)),
	})

	entries, err := svc.SessionLogs(context.Background(), sessionID, nil, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.True(t, entries[0].Timestamp.Before(entries[1].Timestamp))
	assert.True(t, entries[1].Timestamp.Before(entries[2].Timestamp))

	filtered, err := svc.SessionLogs(context.Background(), sessionID, &Filter{Level: "ERROR"}, 0)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "extract failed", filtered[0].Message)

	byJob, err := svc.SessionLogs(context.Background(), sessionID, &Filter{JobID: "load"}, 0)
	require.NoError(t, err)
	require.Len(t, byJob, 1)
	assert.Equal(t, "load started", byJob[0].Message)
}

func TestSessionLogsUnknownSessionErrors(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.SessionLogs(context.Background(), "does-not-exist", nil, 0)
	assert.Error(t, err)
}

func TestMalformedLineBecomesSyntheticError(t *testing.T) {
	svc, objects, sessionID := newTestService(t)
	putLogBatch(t, objects, sessionID, time.Now(), []string{"not json at all"})

	entries, err := svc.SessionLogs(context.Background(), sessionID, nil, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ERROR", entries[0].Level)
	assert.Contains(t, entries[0].Message, "failed to parse log entry")
}

func TestDownloadSessionLogsFormats(t *testing.T) {
	svc, objects, sessionID := newTestService(t)
	base := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	putLogBatch(t, objects, sessionID, base, []string{jsonLine("INFO", "hello", "extract", base)})

	text, err := svc.DownloadSessionLogs(context.Background(), sessionID, FormatText, nil)
	require.NoError(t, err)
	assert.Contains(t, text, "INFO")
	assert.Contains(t, text, "hello")

	jsonOut, err := svc.DownloadSessionLogs(context.Background(), sessionID, FormatJSON, nil)
	require.NoError(t, err)
	assert.Contains(t, jsonOut, `"message"`)

	yamlOut, err := svc.DownloadSessionLogs(context.Background(), sessionID, FormatYAML, nil)
	require.NoError(t, err)
	assert.Contains(t, yamlOut, "message: hello")

	csvOut, err := svc.DownloadSessionLogs(context.Background(), sessionID, FormatCSV, nil)
	require.NoError(t, err)
	assert.Contains(t, csvOut, "timestamp,level,message")
	assert.Contains(t, csvOut, "hello")
}

func TestSummaryCountsLevelsAndJobs(t *testing.T) {
	svc, objects, sessionID := newTestService(t)
	base := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	putLogBatch(t, objects, sessionID, base, []string{
		jsonLine("INFO", "extract started", "extract", base),
		jsonLine("ERROR", "extract failed", "extract", base.Add(time.Second)),
		jsonLine("INFO", "load started", "load", base.Add(2*time.Second)),
	})

	summary, err := svc.Summary(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.TotalEntries)
	assert.Equal(t, 2, summary.Levels["INFO"])
	assert.Equal(t, 1, summary.Levels["ERROR"])
	assert.Equal(t, 1, summary.Jobs["extract"].Errors)
	assert.Equal(t, 2, summary.Jobs["extract"].Entries)
	require.NotNil(t, summary.FirstEntry)
	require.NotNil(t, summary.LastEntry)
}

func TestTailSessionLogsReturnsRecentBatch(t *testing.T) {
	svc, objects, sessionID := newTestService(t)
	base := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	var lines []string
	for i := 0; i < 5; i++ {
		lines = append(lines, jsonLine("INFO", "line", "extract", base.Add(time.Duration(i)*time.Second)))
	}
	putLogBatch(t, objects, sessionID, base, lines)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	initial, updates, err := svc.TailSessionLogs(ctx, sessionID, nil, 2)
	require.NoError(t, err)
	assert.Len(t, initial, 2)
	cancel()
	_, open := <-updates
	assert.False(t, open, "update channel should close once ctx is cancelled")
}

func TestTailSessionLogsPollsForNewEntries(t *testing.T) {
	old := tailPollInterval
	tailPollInterval = time.Millisecond
	defer func() { tailPollInterval = old }()

	svc, objects, sessionID := newTestService(t)
	base := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	putLogBatch(t, objects, sessionID, base, []string{
		jsonLine("INFO", "first", "extract", base),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	initial, updates, err := svc.TailSessionLogs(ctx, sessionID, nil, 10)
	require.NoError(t, err)
	require.Len(t, initial, 1)

	putLogBatch(t, objects, sessionID, base.Add(time.Hour), []string{
		jsonLine("INFO", "second", "extract", base.Add(time.Hour)),
	})

	select {
	case e, ok := <-updates:
		require.True(t, ok)
		assert.Equal(t, "second", e.Message)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tailed entry")
	}
}
