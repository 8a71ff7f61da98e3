package aggregator

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"pagescope/internal/event"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestAggregator(t *testing.T, opts Options) *Aggregator {
	t.Helper()
	a := New(opts)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func pending(id string, offset time.Duration) event.NetworkRequest {
	return event.NetworkRequest{
		ID:          id,
		URL:         "https://api.example.com/" + id,
		Method:      "GET",
		RequestTime: base.Add(offset),
		Status:      event.StatusPending,
	}
}

func messages(entries []event.LogEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Message
	}
	return out
}

func ids(reqs []event.NetworkRequest) []string {
	out := make([]string, len(reqs))
	for i, r := range reqs {
		out[i] = r.ID
	}
	return out
}

func TestLogCapEvictsOldestFirst(t *testing.T) {
	defer goleak.VerifyNone(t)
	a := New(Options{MaxLogs: 3})
	defer a.Close()

	for i := 1; i <= 5; i++ {
		require.NoError(t, a.RecordLog(event.NewLogEntry(event.LevelLog, fmt.Sprintf("m%d", i), "", event.OriginPage)))
	}

	assert.Equal(t, []string{"m3", "m4", "m5"}, messages(a.CurrentLogs()))
	st := a.Stats()
	assert.Equal(t, 3, st.Logs)
	assert.Equal(t, int64(2), st.EvictedLogs)
}

func TestDuplicateTextIsDistinct(t *testing.T) {
	a := newTestAggregator(t, DefaultOptions())
	e1 := event.NewLogEntry(event.LevelInfo, "same", "", event.OriginPage)
	e2 := event.NewLogEntry(event.LevelInfo, "same", "", event.OriginPage)
	require.NoError(t, a.RecordLog(e1))
	require.NoError(t, a.RecordLog(e2))

	logs := a.CurrentLogs()
	require.Len(t, logs, 2)
	assert.False(t, logs[0].Equal(logs[1]))
}

func TestFilterByLevel(t *testing.T) {
	a := newTestAggregator(t, DefaultOptions())
	for _, lvl := range []event.Level{event.LevelInfo, event.LevelError, event.LevelWarn} {
		require.NoError(t, a.RecordLog(event.NewLogEntry(lvl, string(lvl), "", event.OriginPage)))
	}

	got := a.CurrentLogs(event.LevelError)
	require.Len(t, got, 1)
	assert.Equal(t, event.LevelError, got[0].Level)
	assert.Len(t, a.CurrentLogs(), 3, "no levels means all levels")
	assert.Empty(t, a.CurrentLogs(event.LevelDebug))
}

func TestFilterByOrigin(t *testing.T) {
	a := newTestAggregator(t, DefaultOptions())
	require.NoError(t, a.RecordLog(event.NewLogEntry(event.LevelLog, "page", "", event.OriginPage)))
	require.NoError(t, a.RecordLog(event.NewLogEntry(event.LevelLog, "GET /x 200", "", event.OriginNetwork)))
	require.NoError(t, a.RecordLog(event.NewLogEntry(event.LevelLog, "> 1+1", "", event.OriginCommand)))

	assert.Equal(t, []string{"page", "> 1+1"}, messages(a.FilterLogs(Filter{ExcludeOrigins: []event.Origin{event.OriginNetwork}})))
	assert.Equal(t, []string{"GET /x 200"}, messages(a.FilterLogs(Filter{Origins: []event.Origin{event.OriginNetwork}})))
}

func TestRequestLifecycle(t *testing.T) {
	a := newTestAggregator(t, DefaultOptions())
	require.NoError(t, a.RecordRequestStart(pending("a1", 0)))

	got, ok := a.Request("a1")
	require.True(t, ok)
	assert.Equal(t, event.StatusPending, got.Status)

	require.NoError(t, a.RecordRequestCompletion("a1", event.SuccessOutcome(200, "OK", map[string]string{"content-type": "application/json"}, `{"ok":true}`, 42*time.Millisecond)))

	got, ok = a.Request("a1")
	require.True(t, ok)
	assert.Equal(t, event.StatusSuccess, got.Status)
	assert.Equal(t, 200, got.StatusCode)
	assert.Equal(t, `{"ok":true}`, got.ResponseBody)
	require.NotNil(t, got.Duration)
	assert.Equal(t, 42*time.Millisecond, *got.Duration)
}

func TestStatusIsMonotonic(t *testing.T) {
	a := newTestAggregator(t, DefaultOptions())
	require.NoError(t, a.RecordRequestStart(pending("a1", 0)))
	require.NoError(t, a.RecordRequestCompletion("a1", event.SuccessOutcome(204, "No Content", nil, "", time.Millisecond)))
	require.NoError(t, a.RecordRequestCompletion("a1", event.FailureOutcome("late failure", nil)))

	got, _ := a.Request("a1")
	assert.Equal(t, event.StatusSuccess, got.Status)
	assert.Empty(t, got.Error)
	assert.Equal(t, int64(1), a.Stats().DroppedCompletions)
}

func TestUnknownCompletionIsNoop(t *testing.T) {
	a := newTestAggregator(t, DefaultOptions())
	require.NoError(t, a.RecordRequestStart(pending("a1", 0)))
	before := a.Requests()

	require.NoError(t, a.RecordRequestCompletion("nope", event.FailureOutcome("boom", nil)))

	if diff := cmp.Diff(before, a.Requests()); diff != "" {
		t.Errorf("requests changed (-before +after):\n%s", diff)
	}
}

func TestDuplicateStartIsDropped(t *testing.T) {
	a := newTestAggregator(t, DefaultOptions())
	first := pending("a1", 0)
	second := pending("a1", time.Second)
	second.URL = "https://other"
	require.NoError(t, a.RecordRequestStart(first))
	require.NoError(t, a.RecordRequestStart(second))

	reqs := a.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, first.URL, reqs[0].URL)
	assert.Equal(t, int64(1), a.Stats().DroppedStarts)
}

func TestRequestCapEvictsOldestByRequestTime(t *testing.T) {
	a := newTestAggregator(t, Options{MaxRequests: 50})
	for i := 0; i < 60; i++ {
		require.NoError(t, a.RecordRequestStart(pending(fmt.Sprintf("r%02d", i), time.Duration(i)*time.Millisecond)))
	}

	reqs := a.Requests()
	require.Len(t, reqs, 50)
	assert.Equal(t, "r10", reqs[0].ID)
	assert.Equal(t, "r59", reqs[49].ID)
	_, ok := a.Request("r09")
	assert.False(t, ok)
	assert.Equal(t, int64(10), a.Stats().EvictedRequests)
}

func TestEvictionUsesRequestTimeNotArrival(t *testing.T) {
	a := newTestAggregator(t, Options{MaxRequests: 2})
	require.NoError(t, a.RecordRequestStart(pending("late", 10*time.Second)))
	require.NoError(t, a.RecordRequestStart(pending("early", 1*time.Second)))
	require.NoError(t, a.RecordRequestStart(pending("next", 20*time.Second)))

	assert.Equal(t, []string{"late", "next"}, ids(a.Requests()))
}

func TestCompactKeepsNewest(t *testing.T) {
	a := newTestAggregator(t, DefaultOptions())
	for i := 0; i < 1000; i++ {
		require.NoError(t, a.RecordLog(event.NewLogEntry(event.LevelLog, fmt.Sprintf("m%d", i), "", event.OriginPage)))
	}
	for i := 0; i < 50; i++ {
		require.NoError(t, a.RecordRequestStart(pending(fmt.Sprintf("r%02d", i), time.Duration(i)*time.Second)))
		if i%2 == 0 {
			require.NoError(t, a.RecordRequestCompletion(fmt.Sprintf("r%02d", i), event.FailureOutcome("x", nil)))
		}
	}

	res, err := a.Compact(50, 10)
	require.NoError(t, err)
	assert.Equal(t, CompactResult{RemovedLogs: 950, RemovedRequests: 40}, res)

	logs := a.CurrentLogs()
	require.Len(t, logs, 50)
	assert.Equal(t, "m950", logs[0].Message)
	assert.Equal(t, "m999", logs[49].Message)

	reqs := a.Requests()
	require.Len(t, reqs, 10)
	assert.Equal(t, "r40", reqs[0].ID)
	assert.Equal(t, "r49", reqs[9].ID)
	assert.Equal(t, 5, a.Stats().PendingRequests, "pending requests survive compaction")
}

func TestStorageSnapshotReplacedWholesale(t *testing.T) {
	a := newTestAggregator(t, DefaultOptions())
	_, ok := a.Storage()
	assert.False(t, ok)

	require.NoError(t, a.RecordStorageSnapshot(event.StorageSnapshot{LocalStorage: map[string]string{"a": "1", "b": "2"}}))
	require.NoError(t, a.RecordStorageSnapshot(event.StorageSnapshot{LocalStorage: map[string]string{"c": "3"}, Cookies: "sid=1"}))

	snap, ok := a.Storage()
	require.True(t, ok)
	assert.Equal(t, map[string]string{"c": "3"}, snap.LocalStorage)
	assert.Equal(t, "sid=1", snap.Cookies)
}

func TestClear(t *testing.T) {
	a := newTestAggregator(t, DefaultOptions())
	require.NoError(t, a.RecordLog(event.NewLogEntry(event.LevelLog, "x", "", event.OriginPage)))
	require.NoError(t, a.RecordRequestStart(pending("a1", 0)))

	require.NoError(t, a.ClearLogs())
	assert.Empty(t, a.CurrentLogs())
	assert.Len(t, a.Requests(), 1)

	require.NoError(t, a.ClearRequests())
	assert.Empty(t, a.Requests())
}

func TestObserversReceiveUpdatesInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)
	a := New(DefaultOptions())

	var (
		mu    sync.Mutex
		kinds []UpdateKind
		seen  []int
	)
	cancel := a.Subscribe(func(u Update) {
		// Observers may call back into the aggregator.
		n := len(a.CurrentLogs())
		mu.Lock()
		kinds = append(kinds, u.Kind)
		seen = append(seen, n)
		mu.Unlock()
	})

	require.NoError(t, a.RecordLog(event.NewLogEntry(event.LevelLog, "one", "", event.OriginPage)))
	require.NoError(t, a.RecordRequestStart(pending("a1", 0)))
	require.NoError(t, a.RecordRequestCompletion("a1", event.FailureOutcome("x", nil)))
	require.NoError(t, a.RecordStorageSnapshot(event.StorageSnapshot{}))
	require.NoError(t, a.ClearLogs())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(kinds) == 5
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []UpdateKind{LogAdded, RequestsChanged, RequestsChanged, StorageChanged, LogsReset}, kinds)
	mu.Unlock()

	cancel()
	cancel()
	require.NoError(t, a.RecordLog(event.NewLogEntry(event.LevelLog, "two", "", event.OriginPage)))
	require.NoError(t, a.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, kinds, 5, "cancelled observers get nothing")
}

func TestRequestUpdatesCarryFullCollection(t *testing.T) {
	a := newTestAggregator(t, DefaultOptions())
	updates := make(chan Update, 8)
	a.Subscribe(func(u Update) {
		if u.Kind == RequestsChanged {
			updates <- u
		}
	})

	require.NoError(t, a.RecordRequestStart(pending("a1", 0)))
	require.NoError(t, a.RecordRequestStart(pending("a2", time.Second)))

	<-updates
	second := <-updates
	assert.Equal(t, []string{"a1", "a2"}, ids(second.Requests))
}

func TestCloseIsIdempotentAndRejectsWrites(t *testing.T) {
	defer goleak.VerifyNone(t)
	a := New(DefaultOptions())
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	assert.ErrorIs(t, a.RecordLog(event.LogEntry{}), ErrClosed)
	assert.ErrorIs(t, a.ClearRequests(), ErrClosed)
	assert.Nil(t, a.CurrentLogs())
	_, err := a.Compact(1, 1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConcurrentWriters(t *testing.T) {
	a := newTestAggregator(t, Options{MaxLogs: 100, MaxRequests: 10})
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := fmt.Sprintf("w%d-%d", w, i)
				_ = a.RecordLog(event.NewLogEntry(event.LevelLog, id, "", event.OriginPage))
				_ = a.RecordRequestStart(pending(id, time.Duration(i)*time.Millisecond))
				_ = a.RecordRequestCompletion(id, event.FailureOutcome("x", nil))
			}
		}(w)
	}
	wg.Wait()

	st := a.Stats()
	assert.Equal(t, 100, st.Logs)
	assert.Equal(t, 10, st.Requests)
}

func TestRing(t *testing.T) {
	r := newRing[int](3)
	for i := 1; i <= 4; i++ {
		r.push(i)
	}
	assert.Equal(t, []int{2, 3, 4}, r.all())
	assert.Equal(t, []int{3, 4}, r.last(2))
	assert.Equal(t, 1, r.keepLast(2))
	r.push(5)
	r.push(6)
	assert.Equal(t, []int{4, 5, 6}, r.all())
}
