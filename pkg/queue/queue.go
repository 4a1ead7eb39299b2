// Package queue implements the background job queue used for tenant
// provisioning: an in-process memory backend, a redis backend with
// at-least-once delivery and a worker applying bounded retries.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrClosed is returned by a queue after Close
var ErrClosed = errors.New("queue closed")

// Job is a unit of background work
type Job struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`

	// raw is the encoded form the job was dequeued as
	raw string
}

// NewJob creates a job of type typ carrying payload encoded as JSON
func NewJob(typ string, payload interface{}, maxAttempts int) (*Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", typ, err)
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Job{
		ID:          uuid.NewString(),
		Type:        typ,
		Payload:     data,
		MaxAttempts: maxAttempts,
		EnqueuedAt:  time.Now(),
	}, nil
}

// Decode unmarshals the job payload into v
func (j *Job) Decode(v interface{}) error {
	return json.Unmarshal(j.Payload, v)
}

// LastAttempt reports whether the current attempt is the final one
func (j *Job) LastAttempt() bool {
	return j.Attempt >= j.MaxAttempts
}

// Queue stores jobs until a worker takes them
type Queue interface {
	// Enqueue makes job available after delay
	Enqueue(ctx context.Context, job *Job, delay time.Duration) error
	// Dequeue blocks until a job is available or ctx is done
	Dequeue(ctx context.Context) (*Job, error)
	// Ack marks a dequeued job as done
	Ack(ctx context.Context, job *Job) error
	Close() error
}
