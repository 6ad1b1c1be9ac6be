package common

import (
	"github.com/google/uuid"
)

// NewBatchID generates a unique batch ID with the "batch_" prefix
// Format: batch_<uuid>
func NewBatchID() string {
	return "batch_" + uuid.New().String()
}

// NewJobID generates a unique job ID with the "job_" prefix, used when the
// caller does not supply one via --job-id
func NewJobID() string {
	return "job_" + uuid.New().String()
}
