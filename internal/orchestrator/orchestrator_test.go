package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/complyscan/site-analyser/internal/analysis"
	"github.com/complyscan/site-analyser/internal/progress"
)

const testJobID = "0b06e5ae-1d60-4f6a-8f3d-8d2783a2c4a1"

type fixedClock struct {
	t time.Time
}

func (c fixedClock) Now() time.Time { return c.t }

type fixedIDs struct {
	id  string
	err error
}

func (f fixedIDs) NewID() (string, error) { return f.id, f.err }

// fakeChain scripts per-URL behavior: analysis delay, final status, and an
// optional panic. It also tracks how many chains run at once.
type fakeChain struct {
	delays   map[string]time.Duration
	statuses map[string]analysis.Status
	panics   map[string]string
	retries  map[string]int

	active    atomic.Int64
	maxActive atomic.Int64
}

func (f *fakeChain) Analyze(_ context.Context, url string) *analysis.Result {
	cur := f.active.Add(1)
	for {
		prev := f.maxActive.Load()
		if cur <= prev || f.maxActive.CompareAndSwap(prev, cur) {
			break
		}
	}
	defer f.active.Add(-1)

	if d := f.delays[url]; d > 0 {
		time.Sleep(d)
	}
	if msg, ok := f.panics[url]; ok {
		panic(msg)
	}

	res := analysis.NewResult(url, time.Now())
	if status, ok := f.statuses[url]; ok {
		res.Escalate(status)
	}
	if attempts, ok := f.retries[url]; ok {
		res.RecordStage("fetch", attempts, 10*time.Millisecond)
	}
	return res
}

type memStore struct {
	mu      sync.Mutex
	batches []analysis.BatchResult
	err     error
}

func (m *memStore) SaveBatch(_ context.Context, batch analysis.BatchResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.batches = append(m.batches, batch)
	return nil
}

type memPublisher struct {
	mu       sync.Mutex
	topics   []string
	payloads []any
}

func (m *memPublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topics = append(m.topics, topic)
	m.payloads = append(m.payloads, payload)
	return "msg-1", nil
}

type captureEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (c *captureEmitter) Emit(evt progress.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *captureEmitter) kinds() []progress.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]progress.Kind, len(c.events))
	for i, evt := range c.events {
		out[i] = evt.Kind
	}
	return out
}

func newTestOrchestrator(chain Analyzer, store analysis.ResultStore, pub analysis.Publisher, emitter progress.Emitter, topic string) *Orchestrator {
	return New(
		chain,
		store,
		pub,
		emitter,
		fixedIDs{id: testJobID},
		fixedClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
		Config{Topic: topic},
		zap.NewNop(),
	)
}

func TestRunRejectsInvalidConcurrency(t *testing.T) {
	t.Parallel()

	orch := newTestOrchestrator(&fakeChain{}, nil, nil, nil, "")
	for _, concurrency := range []int{0, -1} {
		_, err := orch.Run(context.Background(), []string{"https://a.example"}, concurrency)
		require.Error(t, err)
		require.Contains(t, err.Error(), "concurrency")
	}
}

func TestRunAllSucceed(t *testing.T) {
	t.Parallel()

	urls := []string{"https://a.example", "https://b.example", "https://c.example"}
	store := &memStore{}
	orch := newTestOrchestrator(&fakeChain{}, store, nil, nil, "")

	batch, err := orch.Run(context.Background(), urls, 2)
	require.NoError(t, err)

	require.Equal(t, testJobID, batch.JobID)
	require.Equal(t, 3, batch.Total)
	require.Equal(t, 3, batch.Succeeded)
	require.Zero(t, batch.Partial)
	require.Zero(t, batch.Failed)
	require.Len(t, batch.Results, 3)
	for i, res := range batch.Results {
		require.Equal(t, urls[i], res.URL)
		require.Equal(t, analysis.StatusSuccess, res.Status)
	}
	require.False(t, batch.CompletedAt.Before(batch.StartedAt))
	require.Len(t, store.batches, 1)
}

func TestRunBoundsConcurrency(t *testing.T) {
	t.Parallel()

	urls := make([]string, 12)
	delays := make(map[string]time.Duration, len(urls))
	for i := range urls {
		urls[i] = "https://host" + string(rune('a'+i)) + ".example"
		delays[urls[i]] = 10 * time.Millisecond
	}
	chain := &fakeChain{delays: delays}
	orch := newTestOrchestrator(chain, nil, nil, nil, "")

	_, err := orch.Run(context.Background(), urls, 3)
	require.NoError(t, err)
	require.LessOrEqual(t, chain.maxActive.Load(), int64(3))
}

func TestRunSerialWithConcurrencyOne(t *testing.T) {
	t.Parallel()

	urls := []string{"https://a.example", "https://b.example", "https://c.example"}
	chain := &fakeChain{delays: map[string]time.Duration{
		urls[0]: 5 * time.Millisecond,
		urls[1]: 5 * time.Millisecond,
		urls[2]: 5 * time.Millisecond,
	}}
	orch := newTestOrchestrator(chain, nil, nil, nil, "")

	_, err := orch.Run(context.Background(), urls, 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), chain.maxActive.Load())
}

func TestRunPreservesInputOrder(t *testing.T) {
	t.Parallel()

	// The first URL finishes last; output order must still match input order.
	urls := []string{"https://slow.example", "https://mid.example", "https://fast.example"}
	chain := &fakeChain{
		delays: map[string]time.Duration{
			urls[0]: 60 * time.Millisecond,
			urls[1]: 30 * time.Millisecond,
			urls[2]: 0,
		},
		statuses: map[string]analysis.Status{
			urls[1]: analysis.StatusPartial,
			urls[2]: analysis.StatusFailed,
		},
	}
	orch := newTestOrchestrator(chain, nil, nil, nil, "")

	batch, err := orch.Run(context.Background(), urls, 3)
	require.NoError(t, err)

	require.Len(t, batch.Results, 3)
	for i, res := range batch.Results {
		require.Equal(t, urls[i], res.URL)
	}
	require.Equal(t, 1, batch.Succeeded)
	require.Equal(t, 1, batch.Partial)
	require.Equal(t, 1, batch.Failed)
}

func TestRunConvertsPanicToFailedResult(t *testing.T) {
	t.Parallel()

	urls := []string{"https://ok.example", "https://boom.example", "https://also-ok.example"}
	chain := &fakeChain{panics: map[string]string{urls[1]: "nil dereference in stage"}}
	orch := newTestOrchestrator(chain, nil, nil, nil, "")

	batch, err := orch.Run(context.Background(), urls, 2)
	require.NoError(t, err)

	require.Equal(t, 2, batch.Succeeded)
	require.Equal(t, 1, batch.Failed)
	failed := batch.Results[1]
	require.Equal(t, urls[1], failed.URL)
	require.Equal(t, analysis.StatusFailed, failed.Status)
	require.Contains(t, failed.ErrorMessage, "unexpected error")
	require.Contains(t, failed.ErrorMessage, "nil dereference in stage")
}

func TestRunReturnsBatchAlongsideSaveError(t *testing.T) {
	t.Parallel()

	store := &memStore{err: errors.New("connection refused")}
	orch := newTestOrchestrator(&fakeChain{}, store, nil, nil, "")

	batch, err := orch.Run(context.Background(), []string{"https://a.example"}, 1)
	require.Error(t, err)
	require.Contains(t, err.Error(), "save batch")
	require.Equal(t, 1, batch.Total)
	require.Len(t, batch.Results, 1)
}

func TestRunPublishesCompletion(t *testing.T) {
	t.Parallel()

	pub := &memPublisher{}
	orch := newTestOrchestrator(&fakeChain{}, nil, pub, nil, "batch-events")

	_, err := orch.Run(context.Background(), []string{"https://a.example"}, 1)
	require.NoError(t, err)

	require.Equal(t, []string{"batch-events"}, pub.topics)
	payload, ok := pub.payloads[0].(map[string]any)
	require.True(t, ok)
	require.Equal(t, testJobID, payload["job_id"])
	require.Equal(t, 1, payload["total"])
}

func TestRunSkipsPublishWithoutTopic(t *testing.T) {
	t.Parallel()

	pub := &memPublisher{}
	orch := newTestOrchestrator(&fakeChain{}, nil, pub, nil, "")

	_, err := orch.Run(context.Background(), []string{"https://a.example"}, 1)
	require.NoError(t, err)
	require.Empty(t, pub.topics)
}

func TestRunEmitsProgressEvents(t *testing.T) {
	t.Parallel()

	emitter := &captureEmitter{}
	orch := newTestOrchestrator(&fakeChain{}, nil, nil, emitter, "")

	_, err := orch.Run(context.Background(), []string{"https://a.example", "https://b.example"}, 1)
	require.NoError(t, err)

	kinds := emitter.kinds()
	require.Len(t, kinds, 4)
	require.Equal(t, progress.KindBatchStart, kinds[0])
	require.Equal(t, progress.KindURLDone, kinds[1])
	require.Equal(t, progress.KindURLDone, kinds[2])
	require.Equal(t, progress.KindBatchDone, kinds[3])
}

func TestRunEmitsStageRetryEvents(t *testing.T) {
	t.Parallel()

	emitter := &captureEmitter{}
	chain := &fakeChain{retries: map[string]int{"https://flaky.example": 3}}
	orch := newTestOrchestrator(chain, nil, nil, emitter, "")

	_, err := orch.Run(context.Background(), []string{"https://flaky.example"}, 1)
	require.NoError(t, err)

	var retry *progress.Event
	for i := range emitter.events {
		if emitter.events[i].Kind == progress.KindStageRetry {
			retry = &emitter.events[i]
		}
	}
	require.NotNil(t, retry)
	require.Equal(t, "fetch", retry.Stage)
	require.Equal(t, 3, retry.Attempt)
}
