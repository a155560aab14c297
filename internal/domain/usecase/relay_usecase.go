package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/GrayCatHQ/graycat-aiserver/internal/domain/entity"
	"github.com/GrayCatHQ/graycat-aiserver/pkg/observability"
	"github.com/GrayCatHQ/graycat-aiserver/pkg/utils"
)

// Relay drains the chunk list and the result key for id into one ordered
// frame stream. Each frame is the JSON body of one server-sent event. The
// channel is closed after the terminal frame in every path, including
// consumer cancellation via ctx.
//
// Guarantees: chunks are emitted in append order, each at most once; at most
// one terminal frame (worker error, synthetic stop, or complete payload) is
// ever emitted, and it is always last.
func (u *DispatchUseCase) Relay(ctx context.Context, id string, timeout time.Duration) <-chan json.RawMessage {
	frames := make(chan json.RawMessage)
	go u.relay(ctx, id, timeout, frames)
	return frames
}

func (u *DispatchUseCase) relay(ctx context.Context, id string, timeout time.Duration, frames chan<- json.RawMessage) {
	defer close(frames)

	start := time.Now()
	deadline := start.Add(timeout)
	highWater := 0
	chunksSent := false
	var transcript strings.Builder

	for {
		count, err := u.Broker.ChunkCount(ctx, id)
		if err != nil {
			u.emitStreamError(ctx, frames, id, err, start)
			return
		}

		if count > highWater {
			chunks, err := u.Broker.ReadChunkRange(ctx, id, highWater, count-1)
			if err != nil {
				u.emitStreamError(ctx, frames, id, err, start)
				return
			}
			for _, chunk := range chunks {
				frame, err := json.Marshal(chunk)
				if err != nil {
					u.emitStreamError(ctx, frames, id, err, start)
					return
				}
				if !u.send(ctx, frames, frame) {
					return
				}
				highWater++
				chunksSent = true
				transcript.WriteString(chunk.Content())
				observability.ChunksRelayed.Inc()

				// Yield between chunks so the transport can flush
				// instead of receiving one uninterrupted burst.
				if !u.pause(ctx, u.ChunkPause) {
					return
				}
			}
		}

		res, err := u.Broker.TryGetResult(ctx, id)
		if err != nil {
			u.emitStreamError(ctx, frames, id, err, start)
			return
		}
		if res != nil {
			u.finishRelay(ctx, frames, id, res, chunksSent, transcript.String(), start)
			return
		}

		if time.Now().After(deadline) {
			slog.Error("stream timed out", "job_id", id)
			u.send(ctx, frames, errorFrame("Request timeout"))
			// Broker state is left for operational cleanup.
			u.trackOutcome(id, entity.StatusTimeout, entity.EventTimeout, "request timeout", start)
			return
		}

		if !u.pause(ctx, u.StreamInterval) {
			return
		}
	}
}

// finishRelay emits the terminal frame for a resolved job and cleans up the
// job's broker keys.
func (u *DispatchUseCase) finishRelay(ctx context.Context, frames chan<- json.RawMessage, id string, res *entity.Result, chunksSent bool, transcript string, start time.Time) {
	if res.Error != "" {
		u.send(ctx, frames, errorFrame(res.Error))
		u.cleanup(id)
		u.trackOutcome(id, entity.StatusFailed, entity.EventFailed, res.Error, start)
		return
	}

	data := res.Data
	if data == nil {
		data = map[string]any{}
	}

	var terminal map[string]any
	switch {
	case chunksSent && data["stop"] == true:
		// Synthetic stop frame: the result's passthrough metadata with
		// empty content, marking the end of the token stream.
		terminal = utils.CloneMap(data)
		terminal["content"] = ""
		terminal["stop"] = true
	default:
		// Either the worker produced no incremental output, or it never
		// flagged stop on the result; emit the payload itself so the
		// stream always terminates.
		terminal = data
	}

	frame, err := json.Marshal(terminal)
	if err != nil {
		u.emitStreamError(ctx, frames, id, err, start)
		return
	}
	if !u.send(ctx, frames, frame) {
		return
	}

	u.cleanup(id)
	u.trackOutcome(id, entity.StatusCompleted, entity.EventCompleted, "", start)

	if u.Archive != nil && chunksSent {
		go u.archiveTranscript(id, transcript)
	}
}

// emitStreamError sends a single wrapped-error frame and leaves broker state
// untouched. A malformed record from the worker side is not retryable from
// this side.
func (u *DispatchUseCase) emitStreamError(ctx context.Context, frames chan<- json.RawMessage, id string, cause error, start time.Time) {
	slog.Error("stream relay failed", "job_id", id, "error", cause)
	u.send(ctx, frames, errorFrame(fmt.Sprintf("streaming error: %v", cause)))
	u.trackOutcome(id, entity.StatusFailed, entity.EventFailed, cause.Error(), start)
}

// cleanup deletes the job's result and chunk keys. Delete of an absent key is
// a no-op on the broker, so a repeated delete is benign.
func (u *DispatchUseCase) cleanup(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := u.Broker.DeleteResult(ctx, id); err != nil {
		slog.Warn("result cleanup failed", "job_id", id, "error", err)
	}
	if err := u.Broker.DeleteChunks(ctx, id); err != nil {
		slog.Warn("chunk cleanup failed", "job_id", id, "error", err)
	}
}

func (u *DispatchUseCase) archiveTranscript(id, transcript string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	key := "transcripts/" + id + ".txt"
	if err := u.Archive.Upload(ctx, key, []byte(transcript)); err != nil {
		slog.Warn("transcript archive failed", "job_id", id, "error", err)
	}
}

// send delivers one frame unless the consumer is gone. A false return means
// the relay should halt promptly without emitting anything further.
func (u *DispatchUseCase) send(ctx context.Context, frames chan<- json.RawMessage, frame json.RawMessage) bool {
	select {
	case frames <- frame:
		return true
	case <-ctx.Done():
		return false
	}
}

func (u *DispatchUseCase) pause(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func errorFrame(msg string) json.RawMessage {
	frame, _ := json.Marshal(map[string]string{"error": msg})
	return frame
}
