package domain

import "github.com/google/uuid"

func newUUID() string { return uuid.NewString() }

// NewSessionID, NewPipelineID, and NewCheckpointID are split out from
// newUUID purely so call sites read as intent rather than a bare UUID call.
func NewSessionID() string    { return newUUID() }
func NewPipelineID() string   { return newUUID() }
func NewJobID() string        { return newUUID() }
func NewOperationID() string  { return newUUID() }
func NewCheckpointID() string { return newUUID() }
