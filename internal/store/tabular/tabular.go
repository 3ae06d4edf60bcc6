// Package tabular defines the adapter interface used to persist sessions,
// job history, and pipeline metadata, plus its AWS DynamoDB implementation.
package tabular

import (
	"context"
	"time"

	"github.com/bunsuihq/bunsui/internal/domain"
)

// Table names managed by this adapter, before the configured prefix.
const (
	TableSessions    = "sessions"
	TableJobHistory  = "job-history"
	TablePipelines   = "pipelines"
)

// JobHistoryRecord is a single point-in-time record of a job's execution
// within a session, written by AppendJobHistory.
type JobHistoryRecord struct {
	SessionID    string
	JobID        string
	PipelineID   string
	JobStatus    domain.JobStatus
	Timestamp    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ErrorMessage string
}

// SessionFilter narrows ListSessions by GSI-backed predicates; each of
// PipelineID/Status/UserID maps to a distinct index. DynamoStore.ListSessions
// rejects a filter with none of them set and, when several are set, queries
// by the first of PipelineID, Status, UserID.
type SessionFilter struct {
	PipelineID string
	Status     domain.SessionStatus
	UserID     string
	Limit      int32
}

// Store is the tabular-storage contract every consumer of this package
// depends on; Compile-time satisfied by *DynamoStore.
type Store interface {
	PutSession(ctx context.Context, s *domain.Session) error
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]*domain.Session, error)
	DeleteSession(ctx context.Context, sessionID string) error

	AppendJobHistory(ctx context.Context, rec JobHistoryRecord) error
	ListJobHistory(ctx context.Context, sessionID string) ([]JobHistoryRecord, error)
	ListFailedJobs(ctx context.Context, limit int32) ([]JobHistoryRecord, error)

	PutPipeline(ctx context.Context, p *domain.Pipeline) error
	GetPipeline(ctx context.Context, pipelineID, version string) (*domain.Pipeline, error)
	ListPipelinesByUser(ctx context.Context, userID string, limit int32) ([]*domain.Pipeline, error)

	EnsureTables(ctx context.Context) error
}
