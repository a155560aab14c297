package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"
)

// collectFrames drains a relay channel to completion with a safety deadline.
func collectFrames(t *testing.T, frames <-chan json.RawMessage) []map[string]any {
	t.Helper()
	var out []map[string]any
	timeout := time.After(5 * time.Second)
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				return out
			}
			var decoded map[string]any
			if err := json.Unmarshal(frame, &decoded); err != nil {
				t.Fatalf("frame is not JSON: %s", frame)
			}
			out = append(out, decoded)
		case <-timeout:
			t.Fatal("relay did not terminate")
		}
	}
}

func TestRelayChunksThenSyntheticStop(t *testing.T) {
	broker := newFakeBroker()
	u := newTestUseCase(broker)

	broker.appendChunk("abc123", `{"content":"Hel","stop":false}`)
	broker.appendChunk("abc123", `{"content":"lo","stop":false}`)
	broker.putResult("abc123", `{"data":{"stop":true,"slot_id":2}}`)

	got := collectFrames(t, u.Relay(context.Background(), "abc123", time.Second))
	if len(got) != 3 {
		t.Fatalf("expected N+1 frames, got %d: %#v", len(got), got)
	}
	if got[0]["content"] != "Hel" || got[1]["content"] != "lo" {
		t.Fatalf("chunks out of order: %#v", got)
	}

	want := map[string]any{"content": "", "slot_id": float64(2), "stop": true}
	if !reflect.DeepEqual(got[2], want) {
		t.Fatalf("synthetic stop frame mismatch:\n got %#v\nwant %#v", got[2], want)
	}

	if broker.hasResult("abc123") || broker.hasChunks("abc123") {
		t.Fatal("broker keys not cleaned up after relay")
	}
}

func TestRelayNoChunksEmitsResultPayload(t *testing.T) {
	broker := newFakeBroker()
	u := newTestUseCase(broker)
	broker.putResult("xyz", `{"data":{"text":"42"}}`)

	got := collectFrames(t, u.Relay(context.Background(), "xyz", time.Second))
	if len(got) != 1 {
		t.Fatalf("expected a single frame, got %d: %#v", len(got), got)
	}
	if !reflect.DeepEqual(got[0], map[string]any{"text": "42"}) {
		t.Fatalf("unexpected frame: %#v", got[0])
	}
	if broker.hasResult("xyz") {
		t.Fatal("result key not cleaned up")
	}
}

func TestRelayTimeoutLeavesBrokerState(t *testing.T) {
	broker := newFakeBroker()
	u := newTestUseCase(broker)

	start := time.Now()
	got := collectFrames(t, u.Relay(context.Background(), "timeoutjob", 30*time.Millisecond))
	elapsed := time.Since(start)

	if len(got) != 1 {
		t.Fatalf("expected a single timeout frame, got %d", len(got))
	}
	if got[0]["error"] != "Request timeout" {
		t.Fatalf("unexpected timeout frame: %#v", got[0])
	}
	if elapsed < 30*time.Millisecond {
		t.Fatalf("relay gave up before the deadline: %v", elapsed)
	}
	if broker.deletedResults != 0 || broker.deletedChunks != 0 {
		t.Fatal("timeout must not delete broker state")
	}
}

func TestRelayWorkerError(t *testing.T) {
	broker := newFakeBroker()
	u := newTestUseCase(broker)

	broker.appendChunk("errjob", `{"content":"par","stop":false}`)
	broker.putResult("errjob", `{"error":"out of memory"}`)

	got := collectFrames(t, u.Relay(context.Background(), "errjob", time.Second))
	if len(got) != 2 {
		t.Fatalf("expected chunk + error frame, got %d: %#v", len(got), got)
	}
	if got[1]["error"] != "out of memory" {
		t.Fatalf("worker error not relayed verbatim: %#v", got[1])
	}
	if broker.hasResult("errjob") || broker.hasChunks("errjob") {
		t.Fatal("broker keys not cleaned up after worker error")
	}
}

// A worker that streamed chunks but never flagged stop on its result would
// otherwise leave the caller hanging until the deadline; the payload itself
// is emitted as the trailing frame instead.
func TestRelayStopFlagMissingEmitsTrailingPayload(t *testing.T) {
	broker := newFakeBroker()
	u := newTestUseCase(broker)

	broker.appendChunk("oddjob", `{"content":"tok","stop":false}`)
	broker.putResult("oddjob", `{"data":{"content":"tok","stop":false,"slot_id":1}}`)

	got := collectFrames(t, u.Relay(context.Background(), "oddjob", time.Second))
	if len(got) != 2 {
		t.Fatalf("expected chunk + trailing payload, got %d: %#v", len(got), got)
	}
	want := map[string]any{"content": "tok", "stop": false, "slot_id": float64(1)}
	if !reflect.DeepEqual(got[1], want) {
		t.Fatalf("trailing frame mismatch:\n got %#v\nwant %#v", got[1], want)
	}
}

func TestRelayMalformedChunkIsTerminalWithoutCleanup(t *testing.T) {
	broker := newFakeBroker()
	u := newTestUseCase(broker)
	broker.appendChunk("badjob", `{broken`)

	got := collectFrames(t, u.Relay(context.Background(), "badjob", time.Second))
	if len(got) != 1 {
		t.Fatalf("expected a single error frame, got %d: %#v", len(got), got)
	}
	if _, ok := got[0]["error"]; !ok {
		t.Fatalf("expected an error frame, got %#v", got[0])
	}
	if broker.deletedResults != 0 || broker.deletedChunks != 0 {
		t.Fatal("malformed record must not trigger cleanup")
	}
}

func TestRelayTransportErrorEmitsSingleErrorFrame(t *testing.T) {
	broker := newFakeBroker()
	u := newTestUseCase(broker)
	broker.countErr = errors.New("connection reset")

	got := collectFrames(t, u.Relay(context.Background(), "downjob", time.Second))
	if len(got) != 1 {
		t.Fatalf("expected a single error frame, got %d", len(got))
	}
}

func TestRelayDrainsChunksAsTheyArrive(t *testing.T) {
	broker := newFakeBroker()
	u := newTestUseCase(broker)

	go func() {
		for _, token := range []string{"a", "b", "c", "d"} {
			broker.appendChunk("livejob", `{"content":"`+token+`","stop":false}`)
			time.Sleep(5 * time.Millisecond)
		}
		broker.putResult("livejob", `{"data":{"stop":true,"slot_id":0}}`)
	}()

	got := collectFrames(t, u.Relay(context.Background(), "livejob", 2*time.Second))
	if len(got) != 5 {
		t.Fatalf("expected 4 chunks + stop, got %d: %#v", len(got), got)
	}
	for i, want := range []string{"a", "b", "c", "d"} {
		if got[i]["content"] != want {
			t.Fatalf("chunk %d out of order: %#v", i, got)
		}
	}
	if got[4]["stop"] != true || got[4]["content"] != "" {
		t.Fatalf("missing synthetic stop frame: %#v", got[4])
	}
}

func TestRelayConcurrentJobsDoNotInterfere(t *testing.T) {
	broker := newFakeBroker()
	u := newTestUseCase(broker)

	feed := func(id, prefix string) {
		for i := 0; i < 10; i++ {
			broker.appendChunk(id, `{"content":"`+prefix+`","stop":false}`)
			time.Sleep(time.Millisecond)
		}
		broker.putResult(id, `{"data":{"stop":true,"slot_id":0}}`)
	}
	go feed("left", "L")
	go feed("right", "R")

	var wg sync.WaitGroup
	results := make([][]map[string]any, 2)
	for i, id := range []string{"left", "right"} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			results[i] = collectFrames(t, u.Relay(context.Background(), id, 2*time.Second))
		}(i, id)
	}
	wg.Wait()

	for i, prefix := range []string{"L", "R"} {
		frames := results[i]
		if len(frames) != 11 {
			t.Fatalf("stream %d: expected 10 chunks + stop, got %d", i, len(frames))
		}
		for _, frame := range frames[:10] {
			if frame["content"] != prefix {
				t.Fatalf("stream %d received foreign chunk: %#v", i, frame)
			}
		}
	}
}

func TestRelayHaltsOnConsumerDisconnect(t *testing.T) {
	broker := newFakeBroker()
	u := newTestUseCase(broker)

	ctx, cancel := context.WithCancel(context.Background())
	frames := u.Relay(ctx, "abandoned", time.Minute)
	cancel()

	select {
	case _, ok := <-frames:
		if ok {
			t.Fatal("expected the channel to close without frames")
		}
	case <-time.After(time.Second):
		t.Fatal("relay kept polling after cancellation")
	}
}
