package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/toleds/rag-bot/internal/agent/model"
	ragembed "github.com/toleds/rag-bot/internal/rag/embedding"
	"github.com/toleds/rag-bot/internal/rag/store"
)

// recordingStore records every upsert attempt in call order.
type recordingStore struct {
	mu        sync.Mutex
	calls     [][]model.Fragment
	failOn    func(batch []model.Fragment) error
	delay     time.Duration
	persisted int
}

func (s *recordingStore) GetOrCreateCollection(_ context.Context, name string) (string, error) {
	return name, nil
}

func (s *recordingStore) ActiveCollection() string {
	return "default"
}

func (s *recordingStore) UpsertBatch(_ context.Context, _ string, batch []model.Fragment) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	cp := make([]model.Fragment, len(batch))
	copy(cp, batch)
	s.calls = append(s.calls, cp)
	s.mu.Unlock()
	if s.failOn != nil {
		return s.failOn(batch)
	}
	return nil
}

func (s *recordingStore) SimilarityQuery(context.Context, string, int) ([]model.ScoredFragment, error) {
	return nil, nil
}

func (s *recordingStore) ResetCollection(context.Context) error {
	return nil
}

func (s *recordingStore) ListCollections(context.Context) ([]string, error) {
	return nil, nil
}

func (s *recordingStore) Count(context.Context, string) (int, error) {
	return 0, nil
}

func (s *recordingStore) Persist(context.Context) error {
	s.mu.Lock()
	s.persisted++
	s.mu.Unlock()
	return nil
}

func (s *recordingStore) Close() error {
	return nil
}

func (s *recordingStore) snapshot() [][]model.Fragment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]model.Fragment(nil), s.calls...)
}

func makeFragments(source string, n int) []model.Fragment {
	out := make([]model.Fragment, n)
	for i := range out {
		out[i] = model.Fragment{Content: fmt.Sprintf("%s chunk %d", source, i), SourceID: source}
	}
	return out
}

func collectReports(n int) (Option, func(t *testing.T) []TaskReport) {
	ch := make(chan TaskReport, n)
	opt := WithObserver(func(r TaskReport) { ch <- r })
	wait := func(t *testing.T) []TaskReport {
		t.Helper()
		var out []TaskReport
		for len(out) < n {
			select {
			case r := <-ch:
				out = append(out, r)
			case <-time.After(5 * time.Second):
				t.Fatalf("timed out waiting for %d task reports, got %d", n, len(out))
			}
		}
		return out
	}
	return opt, wait
}

func TestQueueProcessesTasksInOrder(t *testing.T) {
	st := &recordingStore{delay: time.Millisecond}
	obs, wait := collectReports(2)
	q, err := NewQueue(st, WithBatchSize(4), obs)
	require.NoError(t, err)

	_, err = q.Enqueue(makeFragments("t1", 10), false)
	require.NoError(t, err)
	_, err = q.Enqueue(makeFragments("t2", 10), false)
	require.NoError(t, err)

	reports := wait(t)
	assert.Equal(t, uint64(1), reports[0].TaskID)
	assert.Equal(t, uint64(2), reports[1].TaskID)

	calls := st.snapshot()
	require.Len(t, calls, 6)
	for i, batch := range calls {
		want := "t1"
		if i >= 3 {
			want = "t2"
		}
		for _, f := range batch {
			assert.Equal(t, want, f.SourceID, "batch %d", i)
		}
	}
}

func TestQueueAssignsIDsBeforeUpsert(t *testing.T) {
	st := &recordingStore{}
	obs, wait := collectReports(1)
	q, err := NewQueue(st, obs)
	require.NoError(t, err)

	frags := []model.Fragment{
		{Content: "a", SourceID: "A"},
		{Content: "b", SourceID: "A"},
		{Content: "c", SourceID: "B"},
		{Content: "d", SourceID: "A"},
	}
	_, err = q.Enqueue(frags, false)
	require.NoError(t, err)
	wait(t)

	calls := st.snapshot()
	require.Len(t, calls, 1)
	var idx []int
	for _, f := range calls[0] {
		idx = append(idx, f.SequenceIndex)
	}
	assert.Equal(t, []int{0, 1, 0, 0}, idx)
	assert.Equal(t, "A:None:1", calls[0][1].DerivedID)
}

func TestQueuePartialFailureIsolation(t *testing.T) {
	st := &recordingStore{
		failOn: func(batch []model.Fragment) error {
			if batch[0].Content == "t chunk 2" {
				return errors.New("store unreachable")
			}
			return nil
		},
	}
	obs, wait := collectReports(2)
	q, err := NewQueue(st, WithBatchSize(2), obs)
	require.NoError(t, err)

	_, err = q.Enqueue(makeFragments("t", 6), false)
	require.NoError(t, err)
	_, err = q.Enqueue(makeFragments("next", 1), false)
	require.NoError(t, err)

	reports := wait(t)
	assert.Equal(t, 3, reports[0].Batches)
	assert.Equal(t, 1, reports[0].FailedBatches)
	assert.Equal(t, 0, reports[1].FailedBatches)

	calls := st.snapshot()
	require.Len(t, calls, 4)
	assert.Equal(t, "t chunk 0", calls[0][0].Content)
	assert.Equal(t, "t chunk 2", calls[1][0].Content)
	assert.Equal(t, "t chunk 4", calls[2][0].Content)
	assert.Equal(t, "next", calls[3][0].SourceID)
}

func TestQueueRecoversFromPanic(t *testing.T) {
	st := &recordingStore{
		failOn: func(batch []model.Fragment) error {
			if batch[0].SourceID == "boom" {
				panic("driver bug")
			}
			return nil
		},
	}
	obs, wait := collectReports(2)
	q, err := NewQueue(st, obs)
	require.NoError(t, err)

	_, err = q.Enqueue(makeFragments("boom", 1), false)
	require.NoError(t, err)
	_, err = q.Enqueue(makeFragments("fine", 1), false)
	require.NoError(t, err)

	reports := wait(t)
	assert.Equal(t, 1, reports[0].FailedBatches)
	assert.Equal(t, 0, reports[1].FailedBatches)
}

func TestQueueConcurrentSubBatches(t *testing.T) {
	st := &recordingStore{
		delay: 5 * time.Millisecond,
		failOn: func(batch []model.Fragment) error {
			if batch[0].Content == "c chunk 3" {
				return errors.New("rejected")
			}
			return nil
		},
	}
	obs, wait := collectReports(1)
	q, err := NewQueue(st, WithBatchSize(3), WithConcurrency(3), obs)
	require.NoError(t, err)

	_, err = q.Enqueue(makeFragments("c", 9), true)
	require.NoError(t, err)
	reports := wait(t)
	assert.Equal(t, 3, reports[0].Batches)
	assert.Equal(t, 1, reports[0].FailedBatches)

	var firsts []string
	for _, b := range st.snapshot() {
		firsts = append(firsts, b[0].Content)
	}
	sort.Strings(firsts)
	assert.Equal(t, []string{"c chunk 0", "c chunk 3", "c chunk 6"}, firsts)
	assert.Equal(t, 1, st.persisted)
	require.NoError(t, q.Close(context.Background()))
}

func TestQueueIdempotentReingestion(t *testing.T) {
	ctx := context.Background()
	ms, err := store.NewMemoryStore(ragembed.NewHashEmbedder(128), "")
	require.NoError(t, err)

	obs, wait := collectReports(2)
	q, err := NewQueue(ms, WithBatchSize(2), obs)
	require.NoError(t, err)

	_, err = q.Enqueue(makeFragments("doc.txt", 5), false)
	require.NoError(t, err)
	_, err = q.Enqueue(makeFragments("doc.txt", 5), false)
	require.NoError(t, err)
	wait(t)

	n, err := ms.Count(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	res, err := ms.SimilarityQuery(ctx, "doc chunk", 10)
	require.NoError(t, err)
	var ids []string
	for _, r := range res {
		ids = append(ids, r.DerivedID)
	}
	sort.Strings(ids)
	assert.Equal(t, []string{"doc.txt:None:0", "doc.txt:None:1", "doc.txt:None:2", "doc.txt:None:3", "doc.txt:None:4"}, ids)
}

func TestQueueCloseDrainsAndRejects(t *testing.T) {
	st := &recordingStore{delay: 10 * time.Millisecond}
	q, err := NewQueue(st, WithBatchSize(1))
	require.NoError(t, err)

	_, err = q.Enqueue(makeFragments("a", 3), false)
	require.NoError(t, err)
	_, err = q.Enqueue(makeFragments("b", 2), false)
	require.NoError(t, err)

	require.NoError(t, q.Close(context.Background()))
	assert.Len(t, st.snapshot(), 5)
	assert.Zero(t, q.Pending())

	_, err = q.Enqueue(makeFragments("c", 1), false)
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueueCloseHonoursDeadline(t *testing.T) {
	st := &recordingStore{delay: 200 * time.Millisecond}
	q, err := NewQueue(st, WithBatchSize(1))
	require.NoError(t, err)
	_, err = q.Enqueue(makeFragments("slow", 3), false)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Close(ctx), context.DeadlineExceeded)
}

func TestQueueRestartsWorker(t *testing.T) {
	st := &recordingStore{}
	obs, wait := collectReports(1)
	q, err := NewQueue(st, obs)
	require.NoError(t, err)

	_, err = q.Enqueue(makeFragments("first", 1), false)
	require.NoError(t, err)
	wait(t)

	// worker exits when idle; the next enqueue must start a new one
	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return !q.running
	}, time.Second, 5*time.Millisecond)

	_, err = q.Enqueue(makeFragments("second", 1), false)
	require.NoError(t, err)
	wait(t)
	assert.Len(t, st.snapshot(), 2)
}

type mockStore struct {
	recordingStore
	mock.Mock
}

func (m *mockStore) Persist(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func TestQueuePersistFailureIsLogged(t *testing.T) {
	st := &mockStore{}
	st.On("Persist", mock.Anything).Return(errors.New("disk full")).Once()

	obs, wait := collectReports(1)
	q, err := NewQueue(st, obs)
	require.NoError(t, err)
	_, err = q.Enqueue(makeFragments("p", 2), true)
	require.NoError(t, err)

	reports := wait(t)
	assert.Zero(t, reports[0].FailedBatches)
	st.AssertExpectations(t)
}

func TestSplit(t *testing.T) {
	assert.Len(t, split(makeFragments("x", 25), 10), 3)
	assert.Len(t, split(makeFragments("x", 10), 10), 1)
	assert.Empty(t, split(nil, 10))
	assert.Len(t, split(makeFragments("x", 3), 0), 1)
}

func TestNewQueueRequiresStore(t *testing.T) {
	_, err := NewQueue(nil)
	assert.Error(t, err)
}
