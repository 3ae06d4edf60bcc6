// Package archive exports terminal sessions to long-term, cold storage
// once they age out of the hot tabular store, and sweeps them out of that
// store afterward. Grounded on bunsui's long-term-archives exporters and
// retention manager, re-targeted from queue-job records to session
// records.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bunsuihq/bunsui/internal/domain"
	"github.com/bunsuihq/bunsui/internal/obs"
	"github.com/bunsuihq/bunsui/internal/store/object"
	"github.com/bunsuihq/bunsui/internal/store/tabular"
)

// Record is the archived shape of one session, including the job history
// gathered alongside it at export time.
type Record struct {
	Session    *domain.Session             `json:"session"`
	JobHistory []tabular.JobHistoryRecord `json:"job_history"`
	ArchivedAt time.Time                   `json:"archived_at"`
}

// Exporter writes a batch of archived sessions to a cold-storage backend.
type Exporter interface {
	Export(ctx context.Context, batch []Record) error
}

// Sweeper finds terminal sessions older than a retention window, exports
// them to every configured Exporter, and deletes them from the hot
// tabular store. Mirrors RetentionManager.Cleanup's export-then-delete
// ordering, minus the Redis-stream-specific cleanup that has no
// counterpart in a Step-Functions-backed session store.
type Sweeper struct {
	store     tabular.Store
	exporters []Exporter
	olderThan time.Duration
	logger    *zap.Logger
}

func NewSweeper(store tabular.Store, olderThan time.Duration, logger *zap.Logger, exporters ...Exporter) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{store: store, exporters: exporters, olderThan: olderThan, logger: logger}
}

// Sweep archives and deletes every terminal session whose UpdatedAt is
// older than the sweeper's retention window. Returns the number of
// sessions archived.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.olderThan)
	var batch []Record

	for _, status := range []domain.SessionStatus{domain.SessionCompleted, domain.SessionFailed, domain.SessionCancelled} {
		sessions, err := s.store.ListSessions(ctx, tabular.SessionFilter{Status: status})
		if err != nil {
			return len(batch), err
		}
		for _, sess := range sessions {
			if sess.UpdatedAt.After(cutoff) {
				continue
			}
			history, err := s.store.ListJobHistory(ctx, sess.SessionID)
			if err != nil {
				s.logger.Warn("failed to load job history for archival",
					zap.String("session_id", sess.SessionID), zap.Error(err))
				continue
			}
			batch = append(batch, Record{Session: sess, JobHistory: history, ArchivedAt: time.Now().UTC()})
		}
	}

	if len(batch) == 0 {
		return 0, nil
	}

	for _, exp := range s.exporters {
		if err := exp.Export(ctx, batch); err != nil {
			s.logger.Error("archive export failed", zap.Error(err))
			return 0, fmt.Errorf("archive: export: %w", err)
		}
	}

	for _, rec := range batch {
		if err := s.store.DeleteSession(ctx, rec.Session.SessionID); err != nil {
			s.logger.Warn("failed to delete archived session from tabular store",
				zap.String("session_id", rec.Session.SessionID), zap.Error(err))
		}
	}

	s.logger.Info("archive sweep completed", zap.Int("archived", len(batch)))
	return len(batch), nil
}

// S3Exporter writes an archive batch as a single partitioned JSON object
// per sweep, grounded on the S3 key-partitioning approach in
// internal/store/object.
type S3Exporter struct {
	objects object.Store
}

func NewS3Exporter(objects object.Store) *S3Exporter {
	return &S3Exporter{objects: objects}
}

func archiveKey(at time.Time) string {
	return "archive/sessions/" + at.UTC().Format("2006/01/02") + "/" + at.UTC().Format("150405.000000000") + ".json"
}

func (e *S3Exporter) Export(ctx context.Context, batch []Record) error {
	ctx, span := obs.StartAdapterSpan(ctx, "archive", "s3_export")
	defer span.End()

	body, err := json.Marshal(batch)
	if err != nil {
		obs.RecordError(ctx, err)
		return err
	}

	key := archiveKey(time.Now())
	if err := e.objects.Put(ctx, key, bytes.NewReader(body), int64(len(body)), object.PutOptions{ContentType: "application/json"}); err != nil {
		obs.RecordError(ctx, err)
		return err
	}
	obs.SetSpanSuccess(ctx)
	return nil
}
