package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/GrayCatHQ/graycat-aiserver/internal/domain/entity"
	"github.com/GrayCatHQ/graycat-aiserver/pkg/observability"
	"github.com/GrayCatHQ/graycat-aiserver/pkg/utils"
	"github.com/google/uuid"
)

// BrokerRepo is the narrow contract over the shared key/list broker. The
// store provides atomicity for list append and length; no locking happens
// on this side.
type BrokerRepo interface {
	Enqueue(ctx context.Context, job *entity.Job) error
	TryGetResult(ctx context.Context, id string) (*entity.Result, error)
	DeleteResult(ctx context.Context, id string) error
	DeleteChunks(ctx context.Context, id string) error
	ChunkCount(ctx context.Context, id string) (int, error)
	ReadChunkRange(ctx context.Context, id string, from, to int) ([]entity.StreamChunk, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, body json.RawMessage) error
}

type JobLogRepo interface {
	CreateJob(ctx context.Context, rec *entity.JobRecord) error
	UpdateJobStatus(ctx context.Context, jobID string, status entity.JobStatus, lastError string) error
}

type Archiver interface {
	Upload(ctx context.Context, key string, body []byte) error
}

type DispatchUseCase struct {
	Broker  BrokerRepo
	Events  EventPublisher // optional
	JobLog  JobLogRepo     // optional
	Archive Archiver       // optional

	// Poll cadence. Bounded and non-zero so concurrent loops do not
	// saturate the broker.
	WaitInterval   time.Duration
	StreamInterval time.Duration
	ChunkPause     time.Duration
}

func NewDispatchUseCase(broker BrokerRepo, events EventPublisher, jobLog JobLogRepo, archive Archiver) *DispatchUseCase {
	return &DispatchUseCase{
		Broker:         broker,
		Events:         events,
		JobLog:         jobLog,
		Archive:        archive,
		WaitInterval:   100 * time.Millisecond,
		StreamInterval: 50 * time.Millisecond,
		ChunkPause:     time.Millisecond,
	}
}

// Submit builds a freshly identified job for endpoint and appends it to the
// shared work queue. Ids are never reused; a job is never re-enqueued.
func (u *DispatchUseCase) Submit(ctx context.Context, endpoint string, payload any) (*entity.Job, error) {
	data, err := utils.ToRawMessage(payload)
	if err != nil {
		return nil, err
	}

	job := &entity.Job{
		ID:        uuid.New().String(),
		Endpoint:  endpoint,
		Data:      data,
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
	}

	if err := u.Broker.Enqueue(ctx, job); err != nil {
		return nil, err
	}

	observability.JobsSubmitted.WithLabelValues(endpoint).Inc()
	slog.Info("job submitted", "job_id", job.ID, "endpoint", endpoint)

	if u.JobLog != nil {
		rec := &entity.JobRecord{
			JobID:     job.ID,
			Endpoint:  endpoint,
			Status:    entity.StatusPending,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		if err := u.JobLog.CreateJob(ctx, rec); err != nil {
			slog.Warn("job log insert failed", "job_id", job.ID, "error", err)
		}
	}

	u.publishEvent(job.ID, endpoint, entity.EventSubmitted, "")
	return job, nil
}

// Wait polls the result key for id until a result appears or timeout elapses,
// measured from the start of the call. The result key is deleted before the
// result is returned, so delivery to the caller is at most once. A result
// carrying a worker error is returned as-is for the caller to relay.
func (u *DispatchUseCase) Wait(ctx context.Context, id string, timeout time.Duration) (*entity.Result, error) {
	start := time.Now()
	deadline := start.Add(timeout)

	for {
		res, err := u.Broker.TryGetResult(ctx, id)
		switch {
		case errors.Is(err, entity.ErrMalformedRecord):
			u.trackOutcome(id, entity.StatusFailed, entity.EventFailed, err.Error(), start)
			return nil, err
		case err != nil:
			// Transport errors are not terminal here; the next tick retries.
			slog.Warn("result poll failed", "job_id", id, "error", err)
		case res != nil:
			if err := u.Broker.DeleteResult(ctx, id); err != nil {
				slog.Warn("result cleanup failed", "job_id", id, "error", err)
			}
			if res.Error != "" {
				u.trackOutcome(id, entity.StatusFailed, entity.EventFailed, res.Error, start)
			} else {
				u.trackOutcome(id, entity.StatusCompleted, entity.EventCompleted, "", start)
			}
			return res, nil
		}

		if time.Now().After(deadline) {
			u.trackOutcome(id, entity.StatusTimeout, entity.EventTimeout, "request timeout", start)
			return nil, fmt.Errorf("job %s: %w", id, entity.ErrRequestTimeout)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(u.WaitInterval):
		}
	}
}

// Execute is the non-streaming round trip: submit, then wait for the result.
func (u *DispatchUseCase) Execute(ctx context.Context, endpoint string, payload any, timeout time.Duration) (*entity.Result, error) {
	job, err := u.Submit(ctx, endpoint, payload)
	if err != nil {
		return nil, err
	}
	return u.Wait(ctx, job.ID, timeout)
}

func (u *DispatchUseCase) trackOutcome(id string, status entity.JobStatus, event, lastError string, start time.Time) {
	outcome := string(status)
	observability.JobOutcomes.WithLabelValues(outcome).Inc()
	observability.WaitDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	if u.JobLog != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := u.JobLog.UpdateJobStatus(ctx, id, status, lastError); err != nil {
			slog.Warn("job log update failed", "job_id", id, "error", err)
		}
	}
	u.publishEvent(id, "", event, lastError)
}

// publishEvent pushes a lifecycle event to the events exchange, retrying with
// exponential backoff off the request path. Strictly best-effort.
func (u *DispatchUseCase) publishEvent(id, endpoint, event, errMsg string) {
	if u.Events == nil {
		return
	}
	msg, err := utils.ToRawMessage(entity.LifecycleEvent{
		JobID:     id,
		Endpoint:  endpoint,
		Event:     event,
		Error:     errMsg,
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
	})
	if err != nil {
		slog.Warn("lifecycle event marshal failed", "job_id", id, "error", err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := u.publishWithRetry(ctx, msg); err != nil {
			slog.Warn("lifecycle event publish failed", "job_id", id, "event", event, "error", err)
		}
	}()
}

func (u *DispatchUseCase) publishWithRetry(ctx context.Context, msg json.RawMessage) error {
	var (
		baseDelay   = 500 * time.Millisecond
		maxDelay    = 10 * time.Second
		maxAttempts = 5
	)

	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := u.Events.Publish(ctx, msg); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt == maxAttempts {
			break
		}

		backoff := baseDelay << (attempt - 1)
		if backoff > maxDelay {
			backoff = maxDelay
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return errors.New("publish canceled by context")
		}
	}

	return lastErr
}
