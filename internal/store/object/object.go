// Package object defines the adapter interface used to persist session
// logs, compiled state-machine definitions, and pipeline config blobs, plus
// its AWS S3 implementation.
package object

import (
	"context"
	"io"
	"time"
)

// PutOptions configures an object write.
type PutOptions struct {
	ContentType string
}

// Store is the object-storage contract every consumer of this package
// depends on; satisfied by *S3Store.
type Store interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	List(ctx context.Context, prefix string) ([]string, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	EnsureBucket(ctx context.Context) error
}

// SessionLogPrefix returns the prefix under which every log batch for a
// session is stored, so the log service can list a session's logs with a
// single List call regardless of how many batches were written.
func SessionLogPrefix(sessionID string) string {
	return "logs/sessions/" + sessionID + "/"
}

// SessionLogKey returns the key for one batch of a session's log lines,
// named so batches sort chronologically under SessionLogPrefix.
func SessionLogKey(sessionID string, at time.Time) string {
	return SessionLogPrefix(sessionID) + at.UTC().Format("20060102T150405.000000000") + ".jsonl"
}

// StateMachineKey returns the key under which a compiled state-machine
// definition is archived for a pipeline version.
func StateMachineKey(pipelineID, version string) string {
	return "state-machines/" + pipelineID + "/" + version + ".json"
}
