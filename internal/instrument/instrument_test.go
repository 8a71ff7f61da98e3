package instrument

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagescope/internal/event"
)

type posted struct {
	ch      event.Channel
	payload []byte
}

type recorder struct {
	mu    sync.Mutex
	posts []posted
	trail *[]string
}

func (r *recorder) Post(ch event.Channel, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.posts = append(r.posts, posted{ch: ch, payload: append([]byte(nil), payload...)})
	if r.trail != nil {
		*r.trail = append(*r.trail, "post")
	}
	return nil
}

func (r *recorder) on(ch event.Channel) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out [][]byte
	for _, p := range r.posts {
		if p.ch == ch {
			out = append(out, p.payload)
		}
	}
	return out
}

type trailLogger struct{ trail *[]string }

func (l trailLogger) Log(event.Level, ...any) { *l.trail = append(*l.trail, "original") }

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func installedSession(t *testing.T, rec *recorder, opts Options) *Session {
	t.Helper()
	s := NewSession(rec, opts)
	s.Install(nil)
	t.Cleanup(s.Close)
	return s
}

func TestScriptRendersTunables(t *testing.T) {
	script, err := Script(Options{BodyCap: 1000, StorageDebounce: 25 * time.Millisecond, InitialSnapshotDelay: 100 * time.Millisecond})
	require.NoError(t, err)

	assert.Contains(t, script, "var BODY_CAP = 1000;")
	assert.Contains(t, script, "var STORAGE_DEBOUNCE_MS = 25;")
	assert.Contains(t, script, "var INITIAL_SNAPSHOT_MS = 100;")
	assert.Contains(t, script, "console: 'pagescopeConsole'")
	assert.Contains(t, script, "storage: 'pagescopeStorage'")
	assert.Contains(t, script, "[Circular Object]")
	assert.Contains(t, script, "window.__pagescopeReportNetwork = function (level)")
	assert.NotContains(t, script, "{{%")
	assert.True(t, isHookScript(script))
}

func TestScriptDefaults(t *testing.T) {
	script, err := Script(Options{})
	require.NoError(t, err)
	assert.Contains(t, script, "var BODY_CAP = 5000;")
	assert.Contains(t, script, "var INITIAL_SNAPSHOT_MS = 500;")
}

func TestBindingName(t *testing.T) {
	assert.Equal(t, "pagescopeConsole", BindingName(event.ChannelConsole))
	assert.Equal(t, "pagescopeNetwork", BindingName(event.ChannelNetwork))
	assert.Equal(t, "pagescopeStorage", BindingName(event.ChannelStorage))
}

func TestSessionGatesPosting(t *testing.T) {
	rec := &recorder{}
	s := NewSession(rec, DefaultOptions())
	defer s.Close()

	s.Post(event.ChannelConsole, event.ConsoleMessage{Level: "log", Message: "before"})
	assert.Empty(t, rec.on(event.ChannelConsole), "nothing posts before install")

	assert.True(t, s.Install(nil))
	assert.False(t, s.Install(nil), "second install only re-enables")
	s.Post(event.ChannelConsole, event.ConsoleMessage{Level: "log", Message: "on"})

	s.SetEnabled(false)
	assert.True(t, s.Installed())
	assert.False(t, s.Enabled())
	s.Post(event.ChannelConsole, event.ConsoleMessage{Level: "log", Message: "off"})

	assert.False(t, s.Install(nil))
	assert.True(t, s.Enabled())
	s.Post(event.ChannelConsole, event.ConsoleMessage{Level: "log", Message: "again"})

	posts := rec.on(event.ChannelConsole)
	require.Len(t, posts, 2)
	assert.Contains(t, string(posts[0]), `"on"`)
	assert.Contains(t, string(posts[1]), `"again"`)
}

func TestInstrumentedLoggerCallsOriginalFirst(t *testing.T) {
	var trail []string
	rec := &recorder{trail: &trail}
	s := installedSession(t, rec, DefaultOptions())

	l := NewInstrumentedLogger(trailLogger{trail: &trail}, s, "app.go")
	l.Warn("disk", 93, map[string]int{"free": 7})

	assert.Equal(t, []string{"original", "post"}, trail)
	entry, err := event.DecodeConsole(rec.on(event.ChannelConsole)[0])
	require.NoError(t, err)
	assert.Equal(t, event.LevelWarn, entry.Level)
	assert.Equal(t, "disk 93 {\n  \"free\": 7\n}", entry.Message)
	assert.Equal(t, "app.go", entry.Source)
}

func TestReportErrorFiltersCrossOriginPlaceholder(t *testing.T) {
	rec := &recorder{}
	l := NewInstrumentedLogger(nil, installedSession(t, rec, DefaultOptions()), "")

	l.ReportError("Script error.", "", 0, 0, "")
	l.ReportError("", "", 0, 0, "")
	assert.Empty(t, rec.on(event.ChannelConsole))

	l.ReportError("x is undefined", "https://app/main.js", 12, 4, "")
	posts := rec.on(event.ChannelConsole)
	require.Len(t, posts, 1)
	entry, err := event.DecodeConsole(posts[0])
	require.NoError(t, err)
	assert.Equal(t, event.LevelError, entry.Level)
	assert.Equal(t, "Uncaught Error: x is undefined at https://app/main.js:12:4 No stack trace", entry.Message)
}

func TestReportRejectionAndNetworkOrigin(t *testing.T) {
	rec := &recorder{}
	l := NewInstrumentedLogger(nil, installedSession(t, rec, DefaultOptions()), "")

	l.ReportRejection(errors.New("quota exceeded"))
	l.ReportRejection(nil)
	l.ReportNetwork(event.LevelInfo, "GET /api 200")

	posts := rec.on(event.ChannelConsole)
	require.Len(t, posts, 3)
	first, _ := event.DecodeConsole(posts[0])
	second, _ := event.DecodeConsole(posts[1])
	third, _ := event.DecodeConsole(posts[2])
	assert.Equal(t, "Unhandled Promise Rejection: quota exceeded", first.Message)
	assert.Equal(t, "Unhandled Promise Rejection: Unknown reason", second.Message)
	assert.Equal(t, event.OriginNetwork, third.Origin)
}

func TestInstrumentedFetcherSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	rec := &recorder{}
	f := NewInstrumentedFetcher(srv.Client(), installedSession(t, rec, DefaultOptions()))

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/a1", nil)
	require.NoError(t, err)
	req.Header.Set("X-Trace", "t1")
	resp, err := f.Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(body), "caller still reads the full body")

	posts := rec.on(event.ChannelNetwork)
	require.Len(t, posts, 2)

	first, err := event.DecodeNetwork(posts[0])
	require.NoError(t, err)
	started, ok := first.(event.RequestStarted)
	require.True(t, ok, "request event comes first")
	assert.Equal(t, "GET", started.Method)
	assert.Equal(t, "t1", started.Headers["x-trace"])

	second, err := event.DecodeNetwork(posts[1])
	require.NoError(t, err)
	resp2, ok := second.(event.ResponseReceived)
	require.True(t, ok)
	assert.Equal(t, started.ID, resp2.ID)
	assert.Equal(t, 200, resp2.Status)
	assert.Equal(t, "OK", resp2.StatusText)
	assert.Equal(t, "{\n  \"ok\": true\n}", resp2.Body)
}

func TestInstrumentedFetcherTransportError(t *testing.T) {
	rec := &recorder{}
	client := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})}
	f := NewInstrumentedFetcher(client, installedSession(t, rec, DefaultOptions()))

	req, _ := http.NewRequest(http.MethodPost, "http://unreachable.test/x", nil)
	_, err := f.Do(req)
	require.Error(t, err)

	posts := rec.on(event.ChannelNetwork)
	require.Len(t, posts, 2)
	ev, err := event.DecodeNetwork(posts[1])
	require.NoError(t, err)
	failed, ok := ev.(event.RequestFailed)
	require.True(t, ok)
	assert.Contains(t, failed.Error, "connection refused")
	assert.NotNil(t, failed.Duration)
}

func TestInstrumentedFetcherStreamsBody(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: hello\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	rec := &recorder{}
	f := NewInstrumentedFetcher(srv.Client(), installedSession(t, rec, DefaultOptions()))
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)

	type result struct {
		resp *http.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := f.Do(req)
		done <- result{resp, err}
	}()

	var resp *http.Response
	select {
	case r := <-done:
		require.NoError(t, r.err)
		resp = r.resp
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return while the stream stayed open")
	}

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "data: hello\n", line)
	assert.Len(t, rec.on(event.ChannelNetwork), 1, "response event waits for the body to finish")

	require.NoError(t, resp.Body.Close())
	posts := rec.on(event.ChannelNetwork)
	require.Len(t, posts, 2)
	ev, err := event.DecodeNetwork(posts[1])
	require.NoError(t, err)
	got, ok := ev.(event.ResponseReceived)
	require.True(t, ok)
	assert.Equal(t, 200, got.Status)
	assert.Contains(t, got.Body, "data: hello")

	require.NoError(t, resp.Body.Close())
	assert.Len(t, rec.on(event.ChannelNetwork), 2, "one terminal event per request")
}

func TestInstrumentedFetcherBoundsCapture(t *testing.T) {
	payload := strings.Repeat("x", 1<<20)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, payload)
	}))
	defer srv.Close()

	rec := &recorder{}
	opts := DefaultOptions()
	opts.BodyCap = 1000
	f := NewInstrumentedFetcher(srv.Client(), installedSession(t, rec, opts))
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := f.Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Len(t, body, len(payload), "caller sees the whole body")

	capture, ok := resp.Body.(*capturingBody)
	require.True(t, ok)
	assert.Len(t, capture.prefix, captureLimit(opts.BodyCap))

	posts := rec.on(event.ChannelNetwork)
	require.Len(t, posts, 2)
	ev, err := event.DecodeNetwork(posts[1])
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 1000), ev.(event.ResponseReceived).Body)
}

func TestPreviewTruncatedCompressedPrefix(t *testing.T) {
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, _ = zw.Write([]byte(strings.Repeat("abc ", 50000)))
	require.NoError(t, zw.Close())
	prefix := gz.Bytes()[:gz.Len()/2]

	h := http.Header{}
	h.Set("Content-Type", "text/plain")
	h.Set("Content-Encoding", "gzip")
	got := previewCaptured(h, prefix, int64(gz.Len()), true, 1000)
	assert.True(t, strings.HasPrefix(got, "abc abc"), got)
	assert.LessOrEqual(t, len(got), 1000)
}

func TestPreviewBody(t *testing.T) {
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, _ = zw.Write([]byte(`{"a":[1,2]}`))
	require.NoError(t, zw.Close())

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	zst := enc.EncodeAll([]byte("plain text"), nil)
	require.NoError(t, enc.Close())

	header := func(kv ...string) http.Header {
		h := http.Header{}
		for i := 0; i < len(kv); i += 2 {
			h.Set(kv[i], kv[i+1])
		}
		return h
	}

	tests := []struct {
		name   string
		header http.Header
		body   []byte
		limit  int
		want   string
	}{
		{"gzip json", header("Content-Type", "application/json", "Content-Encoding", "gzip"), gz.Bytes(), 5000, "{\n  \"a\": [\n    1,\n    2\n  ]\n}"},
		{"zstd text", header("Content-Type", "text/plain", "Content-Encoding", "zstd"), zst, 5000, "plain text"},
		{"binary", header("Content-Type", "image/png"), []byte{0x89, 'P', 'N', 'G'}, 5000, "[Binary data: 4 bytes]"},
		{"xml", header("Content-Type", "application/xml"), []byte("<a/>"), 5000, "<a/>"},
		{"truncated", header("Content-Type", "text/plain"), []byte(strings.Repeat("é", 10)), 4, "éééé"},
		{"bad json passes through", header("Content-Type", "application/json"), []byte("{oops"), 5000, "{oops"},
		{"corrupt gzip", header("Content-Encoding", "gzip"), []byte("nope"), 5000, unreadableBody},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, previewCaptured(tt.header, tt.body, int64(len(tt.body)), false, tt.limit))
		})
	}
}

func TestInstrumentedStoreDebouncesBursts(t *testing.T) {
	rec := &recorder{}
	page, err := NewPage(PageConfig{
		URL:     "https://app.example.com/",
		Poster:  rec,
		Options: Options{StorageDebounce: 20 * time.Millisecond, InitialSnapshotDelay: time.Hour},
	})
	require.NoError(t, err)
	defer page.Session.Close()
	page.Install()

	for _, k := range []string{"a", "b", "c", "d"} {
		page.LocalStorage.Set(k, strings.ToUpper(k))
	}
	page.LocalStorage.Remove("d")
	page.SessionStorage.Set("step", "2")

	require.Eventually(t, func() bool { return len(rec.on(event.ChannelStorage)) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	posts := rec.on(event.ChannelStorage)
	require.Len(t, posts, 1, "one snapshot per burst")

	snap, err := event.DecodeStorage(posts[0])
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "A", "b": "B", "c": "C"}, snap.LocalStorage)
	assert.Equal(t, map[string]string{"step": "2"}, snap.SessionStorage)
}

func TestPageInitialSnapshotIncludesCookies(t *testing.T) {
	rec := &recorder{}
	page, err := NewPage(PageConfig{
		URL:     "https://app.example.com/home",
		Poster:  rec,
		Options: Options{InitialSnapshotDelay: 10 * time.Millisecond},
	})
	require.NoError(t, err)
	defer page.Session.Close()

	page.SetCookie("sid", "1")
	page.SetCookie("theme", "dark")
	assert.True(t, page.Install())

	require.Eventually(t, func() bool { return len(rec.on(event.ChannelStorage)) == 1 }, time.Second, 5*time.Millisecond)
	snap, err := event.DecodeStorage(rec.on(event.ChannelStorage)[0])
	require.NoError(t, err)
	assert.ElementsMatch(t, []event.Cookie{{Name: "sid", Value: "1"}, {Name: "theme", Value: "dark"}}, snap.ParsedCookies())
}

func TestPageEvaluate(t *testing.T) {
	ctx := context.Background()
	page, err := NewPage(PageConfig{URL: "https://app.example.com/", Poster: &recorder{}, Options: Options{InitialSnapshotDelay: time.Hour}})
	require.NoError(t, err)
	defer page.Session.Close()

	needed, err := page.Evaluate(ctx, ProbeScript)
	require.NoError(t, err)
	assert.Equal(t, true, needed)

	script, err := Script(page.Session.Options())
	require.NoError(t, err)
	_, err = page.Evaluate(ctx, script)
	require.NoError(t, err)
	assert.True(t, page.Session.Installed())

	needed, _ = page.Evaluate(ctx, ProbeScript)
	assert.Equal(t, false, needed)

	_, err = page.Evaluate(ctx, EnabledScript(false))
	require.NoError(t, err)
	assert.False(t, page.Session.Enabled())

	page.Define("answer", 42)
	page.Define("version", func() (any, error) { return "1.2.0", nil })

	v, err := page.Evaluate(ctx, "answer")
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = page.Evaluate(ctx, "version();")
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", v)

	_, err = page.Evaluate(ctx, "missing")
	assert.ErrorIs(t, err, ErrUndefined)
	assert.EqualError(t, err, "ReferenceError: missing is not defined")

	_, err = page.Evaluate(ctx, "answer()")
	assert.EqualError(t, err, "TypeError: answer is not a function")
}
