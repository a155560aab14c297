package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/GrayCatHQ/graycat-aiserver/internal/domain/entity"
	"github.com/redis/go-redis/v9"
)

const (
	// Key layout shared with the GPU workers.
	queueKey        = "gpu_tasks"
	resultKeyPrefix = "result:"
	streamKeyPrefix = "stream:"
)

// BrokerRepo is the narrow client over the shared Redis broker. All methods
// are safe for concurrent use; go-redis pools connections underneath.
type BrokerRepo struct {
	Client *redis.Client
}

func NewBrokerRepo(client *redis.Client) *BrokerRepo {
	return &BrokerRepo{Client: client}
}

// Enqueue appends a serialized job to the shared work queue. Workers pop from
// the opposite end, so the queue is FIFO.
func (r *BrokerRepo) Enqueue(ctx context.Context, job *entity.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := r.Client.LPush(ctx, queueKey, data).Err(); err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	return nil
}

// TryGetResult reads the result key for id without blocking. A missing key
// returns (nil, nil).
func (r *BrokerRepo) TryGetResult(ctx context.Context, id string) (*entity.Result, error) {
	raw, err := r.Client.Get(ctx, resultKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get result %s: %w", id, err)
	}
	return entity.DecodeResult(raw)
}

func (r *BrokerRepo) DeleteResult(ctx context.Context, id string) error {
	return r.Client.Del(ctx, resultKeyPrefix+id).Err()
}

func (r *BrokerRepo) DeleteChunks(ctx context.Context, id string) error {
	return r.Client.Del(ctx, streamKeyPrefix+id).Err()
}

// ChunkCount returns the current length of the chunk list for id.
func (r *BrokerRepo) ChunkCount(ctx context.Context, id string) (int, error) {
	n, err := r.Client.LLen(ctx, streamKeyPrefix+id).Result()
	if err != nil {
		return 0, fmt.Errorf("chunk count %s: %w", id, err)
	}
	return int(n), nil
}

// ReadChunkRange fetches chunks [from, to] in list order. Callers track the
// high-water mark themselves; indices already read are never re-fetched.
func (r *BrokerRepo) ReadChunkRange(ctx context.Context, id string, from, to int) ([]entity.StreamChunk, error) {
	raws, err := r.Client.LRange(ctx, streamKeyPrefix+id, int64(from), int64(to)).Result()
	if err != nil {
		return nil, fmt.Errorf("read chunks %s [%d:%d]: %w", id, from, to, err)
	}
	chunks := make([]entity.StreamChunk, 0, len(raws))
	for _, raw := range raws {
		chunk, err := entity.DecodeStreamChunk([]byte(raw))
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}
