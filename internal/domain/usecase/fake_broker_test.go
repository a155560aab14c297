package usecase

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/GrayCatHQ/graycat-aiserver/internal/domain/entity"
)

// fakeBroker is an in-memory stand-in for the Redis broker. Values are held
// raw, exactly as a worker would have written them.
type fakeBroker struct {
	mu      sync.Mutex
	queue   [][]byte
	results map[string][]byte
	chunks  map[string][][]byte

	deletedResults int
	deletedChunks  int
	getErr         error
	countErr       error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		results: make(map[string][]byte),
		chunks:  make(map[string][][]byte),
	}
}

func (f *fakeBroker) putResult(id, raw string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[id] = []byte(raw)
}

func (f *fakeBroker) appendChunk(id, raw string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks[id] = append(f.chunks[id], []byte(raw))
}

func (f *fakeBroker) hasResult(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.results[id]
	return ok
}

func (f *fakeBroker) hasChunks(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.chunks[id]
	return ok
}

func (f *fakeBroker) Enqueue(ctx context.Context, job *entity.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, data)
	return nil
}

func (f *fakeBroker) TryGetResult(ctx context.Context, id string) (*entity.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	raw, ok := f.results[id]
	if !ok {
		return nil, nil
	}
	return entity.DecodeResult(raw)
}

func (f *fakeBroker) DeleteResult(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.results, id)
	f.deletedResults++
	return nil
}

func (f *fakeBroker) DeleteChunks(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.chunks, id)
	f.deletedChunks++
	return nil
}

func (f *fakeBroker) ChunkCount(ctx context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countErr != nil {
		return 0, f.countErr
	}
	return len(f.chunks[id]), nil
}

func (f *fakeBroker) ReadChunkRange(ctx context.Context, id string, from, to int) ([]entity.StreamChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raws := f.chunks[id]
	if to >= len(raws) {
		to = len(raws) - 1
	}
	var out []entity.StreamChunk
	for _, raw := range raws[from : to+1] {
		chunk, err := entity.DecodeStreamChunk(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk)
	}
	return out, nil
}

// newTestUseCase returns a usecase with poll cadence tightened for tests.
func newTestUseCase(broker BrokerRepo) *DispatchUseCase {
	u := NewDispatchUseCase(broker, nil, nil, nil)
	u.WaitInterval = 2 * time.Millisecond
	u.StreamInterval = 2 * time.Millisecond
	u.ChunkPause = 100 * time.Microsecond
	return u
}
