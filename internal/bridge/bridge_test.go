package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"pagescope/internal/aggregator"
	"pagescope/internal/event"
	"pagescope/internal/instrument"
)

type fixture struct {
	agg    *aggregator.Aggregator
	bridge *Bridge
	lb     *Loopback
	page   *instrument.Page
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	if opts.Instrument.InitialSnapshotDelay == 0 {
		opts.Instrument.InitialSnapshotDelay = time.Hour
	}
	agg := aggregator.New(aggregator.DefaultOptions())
	b, err := New(agg, opts)
	require.NoError(t, err)

	lb := NewLoopback()
	page, err := instrument.NewPage(instrument.PageConfig{
		URL:     "https://app.example.com/",
		Poster:  lb,
		Options: opts.Instrument,
	})
	require.NoError(t, err)
	lb.SetEvaluator(page)

	t.Cleanup(func() {
		_ = b.Disable(context.Background())
		page.Session.Close()
		_ = agg.Close()
	})
	return &fixture{agg: agg, bridge: b, lb: lb, page: page}
}

func TestEnableInjectsIntoLoadedPage(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.bridge.Enable(context.Background(), f.lb))

	assert.True(t, f.page.Session.Installed())
	assert.True(t, f.page.Session.Enabled())
	for _, ch := range event.Channels() {
		assert.True(t, f.lb.Bound(instrument.BindingName(ch)), ch)
	}
	assert.Len(t, f.lb.DocumentScripts(), 1)

	f.page.Console.Info("ready")
	logs := f.agg.CurrentLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, "ready", logs[0].Message)
	assert.Equal(t, event.LevelInfo, logs[0].Level)
}

func TestEnableIsIdempotent(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	require.NoError(t, f.bridge.Enable(ctx, f.lb))
	require.NoError(t, f.bridge.Enable(ctx, f.lb))

	assert.Len(t, f.lb.DocumentScripts(), 1)
	f.page.Console.Warn("once")
	assert.Len(t, f.agg.CurrentLogs(), 1, "each observation yields exactly one entry")
}

func TestDisableThenEnableNeverReinstalls(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t, Options{})
	ctx := context.Background()

	require.NoError(t, f.bridge.Enable(ctx, f.lb))
	require.NoError(t, f.bridge.Disable(ctx))
	require.NoError(t, f.bridge.Disable(ctx))

	assert.False(t, f.bridge.Enabled())
	assert.False(t, f.page.Session.Enabled())
	assert.Empty(t, f.lb.DocumentScripts())
	assert.False(t, f.lb.Bound(instrument.BindingName(event.ChannelConsole)))

	f.page.Console.Info("while disabled")
	assert.Empty(t, f.agg.CurrentLogs())

	require.NoError(t, f.bridge.Enable(ctx, f.lb))
	assert.False(t, f.page.Install(), "hooks were already installed")
	f.page.Console.Info("after")
	logs := f.agg.CurrentLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, "after", logs[0].Message)

	require.NoError(t, f.bridge.Disable(ctx))
	f.page.Session.Close()
	require.NoError(t, f.agg.Close())
}

func TestNavigateRunsDocumentScriptOnce(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	require.NoError(t, f.bridge.Enable(ctx, f.lb))

	require.NoError(t, f.lb.Navigate(ctx, "https://app.example.com/next"))
	f.page.Console.Info("after navigation")
	assert.Len(t, f.agg.CurrentLogs(), 1)
}

func TestNetworkScenario(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.bridge.Enable(context.Background(), f.lb))

	require.NoError(t, f.lb.Post(event.ChannelNetwork, []byte(`{"type":"request","id":"a1","url":"https://api/x","method":"GET","timestamp":1700000000000}`)))
	req, ok := f.agg.Request("a1")
	require.True(t, ok)
	assert.Equal(t, event.StatusPending, req.Status)

	require.NoError(t, f.lb.Post(event.ChannelNetwork, []byte(`{"type":"response","id":"a1","status":200,"headers":{},"body":"{\"ok\":true}","duration":12,"timestamp":1700000000012}`)))
	req, ok = f.agg.Request("a1")
	require.True(t, ok)
	assert.Equal(t, event.StatusSuccess, req.Status)
	assert.Equal(t, 200, req.StatusCode)
	assert.Equal(t, `{"ok":true}`, req.ResponseBody)

	require.NoError(t, f.lb.Post(event.ChannelNetwork, []byte(`{"type":"error","id":"zz","error":"orphan"}`)))
	assert.Len(t, f.agg.Requests(), 1)
}

func TestStorageRoundTripThroughChannel(t *testing.T) {
	f := newFixture(t, Options{Instrument: instrument.Options{StorageDebounce: 5 * time.Millisecond}})
	require.NoError(t, f.bridge.Enable(context.Background(), f.lb))

	want := map[string]string{"token": "abc", "greeting": "안녕하세요 ✓", "empty": ""}
	for k, v := range want {
		f.page.LocalStorage.Set(k, v)
	}
	f.page.SessionStorage.Set("step", "2")

	require.Eventually(t, func() bool {
		snap, ok := f.agg.Storage()
		return ok && len(snap.LocalStorage) == len(want) && len(snap.SessionStorage) == 1
	}, time.Second, 5*time.Millisecond)

	snap, _ := f.agg.Storage()
	if diff := cmp.Diff(want, snap.LocalStorage); diff != "" {
		t.Errorf("localStorage mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, map[string]string{"step": "2"}, snap.SessionStorage)
}

func TestMalformedPayloadsAreDropped(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.bridge.Enable(context.Background(), f.lb))

	require.NoError(t, f.lb.Post(event.ChannelConsole, []byte(`{"level":"fatal","message":"x"}`)))
	require.NoError(t, f.lb.Post(event.ChannelNetwork, []byte(`{"type":"request"}`)))
	require.NoError(t, f.lb.Post(event.ChannelStorage, []byte(`[]`)))

	assert.Equal(t, int64(3), f.bridge.Dropped())
	assert.Empty(t, f.agg.CurrentLogs())
	assert.Empty(t, f.agg.Requests())
	_, ok := f.agg.Storage()
	assert.False(t, ok)
}

func TestDispatchRejectsUnknownChannel(t *testing.T) {
	f := newFixture(t, Options{})
	err := f.bridge.Dispatch(event.Channel("dom"), []byte(`{}`))
	assert.ErrorIs(t, err, event.ErrMalformed)
}

func TestRunCommand(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	res := f.bridge.Run(ctx, "answer")
	assert.ErrorIs(t, res.Err, ErrNotEnabled)

	require.NoError(t, f.bridge.Enable(ctx, f.lb))
	f.page.Define("answer", 42)
	f.page.Define("noop", func() (any, error) { return nil, nil })

	res = f.bridge.Run(ctx, "answer")
	require.NoError(t, res.Err)
	assert.Equal(t, "42", res.Result.String())

	res = f.bridge.Run(ctx, "noop()")
	require.NoError(t, res.Err)
	assert.Equal(t, "undefined", res.Result.String())

	res = f.bridge.Run(ctx, "missing")
	require.True(t, res.Failed())
	assert.True(t, IsScriptError(res.Err))
	assert.Equal(t, "ReferenceError: missing is not defined", res.Err.Error())
}

func TestLifecycleForwarded(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []LifecycleKind
	)
	f := newFixture(t, Options{OnLifecycle: func(ev LifecycleEvent) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, ev.Kind)
	}})
	require.NoError(t, f.bridge.Enable(context.Background(), f.lb))

	f.lb.SetVisible(false)
	f.lb.SetVisible(true)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []LifecycleKind{Hidden, Visible}, seen)
}

// stallingEvaluator holds one script until the caller's context ends, then
// runs it anyway, the way a page may still apply an evaluation the host has
// stopped waiting for.
type stallingEvaluator struct {
	next    Evaluator
	code    string
	entered chan struct{}
	once    sync.Once
}

func (e *stallingEvaluator) Evaluate(ctx context.Context, code string) (any, error) {
	if code == e.code {
		e.once.Do(func() { close(e.entered) })
		<-ctx.Done()
		return e.next.Evaluate(context.Background(), code)
	}
	return e.next.Evaluate(ctx, code)
}

func TestDisableClearsFlagAfterLifecycleReassert(t *testing.T) {
	f := newFixture(t, Options{})
	stall := &stallingEvaluator{next: f.page, code: instrument.EnabledScript(true), entered: make(chan struct{})}
	f.lb.SetEvaluator(stall)
	ctx := context.Background()
	require.NoError(t, f.bridge.Enable(ctx, f.lb))

	require.NoError(t, f.lb.Navigate(ctx, "https://app.example.com/next"))
	select {
	case <-stall.entered:
	case <-time.After(time.Second):
		t.Fatal("load event never re-asserted the enabled flag")
	}

	require.NoError(t, f.bridge.Disable(ctx))
	assert.False(t, f.bridge.Enabled())
	assert.False(t, f.page.Session.Enabled(), "page flag stays cleared once Disable returns")
}

type failingSurface struct {
	*Loopback
	bindErr error
}

func (s failingSurface) Bind(ctx context.Context, name string, fn BindingFunc) (func() error, error) {
	if name == instrument.BindingName(event.ChannelStorage) {
		return nil, s.bindErr
	}
	return s.Loopback.Bind(ctx, name, fn)
}

func TestEnableUnwindsOnBindFailure(t *testing.T) {
	f := newFixture(t, Options{})
	s := failingSurface{Loopback: f.lb, bindErr: errors.New("target closed")}

	err := f.bridge.Enable(context.Background(), s)
	require.Error(t, err)
	assert.False(t, f.bridge.Enabled())
	assert.False(t, f.lb.Bound(instrument.BindingName(event.ChannelConsole)))
}

func TestResultString(t *testing.T) {
	assert.Equal(t, "null", ValueResult(nil).String())
	assert.Equal(t, "undefined", UndefinedResult().String())
	assert.Equal(t, "hi", ValueResult("hi").String())
	assert.Equal(t, "{\n  \"a\": 1\n}", ValueResult(map[string]any{"a": 1}).String())

	r, err := DecodeResult([]byte(`[1,"x"]`))
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1), "x"}, r.Value)
}
