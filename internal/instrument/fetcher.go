package instrument

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"

	"pagescope/internal/event"
)

const unreadableBody = "[Unable to read response body]"

// Fetcher performs HTTP requests for a page. *http.Client satisfies it.
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// InstrumentedFetcher reports every request it forwards: a request event
// before the call, then exactly one response or error event. The response is
// returned as soon as its headers arrive; the response event follows once the
// caller has read the body to the end or closed it.
type InstrumentedFetcher struct {
	next    Fetcher
	session *Session
	newID   func() string
}

// NewInstrumentedFetcher wraps next.
func NewInstrumentedFetcher(next Fetcher, s *Session) *InstrumentedFetcher {
	return &InstrumentedFetcher{next: next, session: s, newID: uuid.NewString}
}

// Do forwards req to the wrapped fetcher and returns its results unchanged,
// apart from the response body, which is a reader over the same stream that
// keeps a bounded prefix for the preview.
func (f *InstrumentedFetcher) Do(req *http.Request) (*http.Response, error) {
	id := f.newID()
	started := time.Now()
	f.session.Post(event.ChannelNetwork, event.NetworkRequestMessage{
		Type:      event.NetworkRequestType,
		ID:        id,
		URL:       req.URL.String(),
		Method:    methodOf(req),
		Headers:   flattenHeader(req.Header),
		Timestamp: float64(started.UnixMilli()),
	})

	resp, err := f.next.Do(req)
	if err != nil {
		d := float64(time.Since(started).Milliseconds())
		f.session.Post(event.ChannelNetwork, event.NetworkErrorMessage{
			Type:     event.NetworkErrorType,
			ID:       id,
			Error:    err.Error(),
			Duration: &d,
		})
		return resp, err
	}

	msg := event.NetworkResponseMessage{
		Type:       event.NetworkResponseType,
		ID:         id,
		Status:     resp.StatusCode,
		StatusText: statusText(resp),
		Headers:    flattenHeader(resp.Header),
		Body:       unreadableBody,
		Duration:   float64(time.Since(started).Milliseconds()),
	}
	if resp.Body == nil {
		msg.Timestamp = float64(time.Now().UnixMilli())
		f.session.Post(event.ChannelNetwork, msg)
		return resp, nil
	}

	bodyCap := f.session.Options().BodyCap
	resp.Body = &capturingBody{
		rc:       resp.Body,
		limit:    captureLimit(bodyCap),
		expected: resp.ContentLength,
		finish: func(prefix []byte, total int64, truncated bool, readErr error) {
			if readErr == nil {
				msg.Body = previewCaptured(resp.Header, prefix, total, truncated, bodyCap)
			}
			msg.Timestamp = float64(time.Now().UnixMilli())
			f.session.Post(event.ChannelNetwork, msg)
		},
	}
	return resp, nil
}

// captureLimit is how many body bytes are kept for a preview of bodyCap
// characters: up to four bytes per rune, with a floor for compressed bodies.
func captureLimit(bodyCap int) int {
	const floor = 16 << 10
	if n := bodyCap * 4; n > floor {
		return n
	}
	return floor
}

// capturingBody passes reads through and keeps the first limit bytes. finish
// runs once, on EOF, on a read error or on Close, whichever comes first.
// expected is the declared length, or -1 when unknown.
type capturingBody struct {
	rc       io.ReadCloser
	limit    int
	expected int64
	finish   func(prefix []byte, total int64, truncated bool, readErr error)

	mu     sync.Mutex
	prefix []byte
	total  int64
	done   bool
}

func (b *capturingBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	b.mu.Lock()
	if n > 0 {
		b.total += int64(n)
		if room := b.limit - len(b.prefix); room > 0 {
			b.prefix = append(b.prefix, p[:min(n, room)]...)
		}
	}
	b.mu.Unlock()
	switch {
	case err == io.EOF:
		b.complete(false, nil)
	case err != nil:
		b.complete(true, err)
	}
	return n, err
}

func (b *capturingBody) Close() error {
	err := b.rc.Close()
	b.mu.Lock()
	whole := b.expected >= 0 && b.total == b.expected
	b.mu.Unlock()
	b.complete(!whole, nil)
	return err
}

func (b *capturingBody) complete(partial bool, readErr error) {
	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		return
	}
	b.done = true
	prefix, total := b.prefix, b.total
	truncated := partial || total > int64(len(prefix))
	b.mu.Unlock()
	b.finish(prefix, total, truncated, readErr)
}

func methodOf(req *http.Request) string {
	if req.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(req.Method)
}

func statusText(resp *http.Response) string {
	if text := strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)+" "); text != "" && text != resp.Status {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

// flattenHeader lowercases names and joins repeated values with ", ".
func flattenHeader(h http.Header) map[string]string {
	if len(h) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(h))
	for name, values := range h {
		out[strings.ToLower(name)] = strings.Join(values, ", ")
	}
	return out
}

// previewCaptured turns a captured body prefix into display text: pretty
// JSON, text as is, anything else as a byte count. Text is cut at limit
// characters. A truncated prefix is decoded as far as it goes.
func previewCaptured(h http.Header, raw []byte, total int64, truncated bool, limit int) string {
	body, err := decodeContent(h.Get("Content-Encoding"), raw, captureLimit(limit), truncated)
	if err != nil {
		return unreadableBody
	}

	mediaType := strings.ToLower(h.Get("Content-Type"))
	if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = parsed
	}

	switch {
	case isJSONMedia(mediaType):
		var pretty bytes.Buffer
		if !truncated && json.Indent(&pretty, body, "", "  ") == nil {
			return truncateText(pretty.String(), limit)
		}
		return truncateText(validPrefix(body), limit)
	case isTextMedia(mediaType):
		return truncateText(validPrefix(body), limit)
	case mediaType == "" && utf8.Valid(trimPartialRune(body, truncated)):
		return truncateText(validPrefix(body), limit)
	}
	size := int64(len(body))
	if truncated {
		size = total
	}
	return fmt.Sprintf("[Binary data: %d bytes]", size)
}

// trimPartialRune drops a rune cut off by truncation.
func trimPartialRune(b []byte, truncated bool) []byte {
	if !truncated {
		return b
	}
	for i := 0; i < utf8.UTFMax && len(b) > 0; i++ {
		if utf8.Valid(b) {
			return b
		}
		b = b[:len(b)-1]
	}
	return b
}

func validPrefix(b []byte) string {
	return strings.ToValidUTF8(string(b), "")
}

func isJSONMedia(mt string) bool {
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

func isTextMedia(mt string) bool {
	return strings.HasPrefix(mt, "text/") ||
		mt == "application/xml" ||
		strings.HasSuffix(mt, "+xml") ||
		mt == "application/javascript" ||
		mt == "application/x-www-form-urlencoded"
}

// decodeContent undoes Content-Encoding codings in reverse order of
// application, keeping at most maxOut decoded bytes per stage. When raw is a
// truncated prefix, a stream that ends early still yields what it decoded.
func decodeContent(encoding string, raw []byte, maxOut int, truncated bool) ([]byte, error) {
	if encoding == "" {
		return raw, nil
	}
	codings := strings.Split(encoding, ",")
	body := raw
	for i := len(codings) - 1; i >= 0; i-- {
		c := codings[i]
		var r io.Reader
		switch strings.ToLower(strings.TrimSpace(c)) {
		case "", "identity":
			continue
		case "gzip", "x-gzip":
			zr, err := gzip.NewReader(bytes.NewReader(body))
			if err != nil {
				return nil, err
			}
			defer zr.Close()
			r = zr
		case "deflate":
			zr, err := zlib.NewReader(bytes.NewReader(body))
			if err != nil {
				return nil, err
			}
			defer zr.Close()
			r = zr
		case "zstd":
			zr, err := zstd.NewReader(bytes.NewReader(body), zstd.WithDecoderConcurrency(1))
			if err != nil {
				return nil, err
			}
			defer zr.Close()
			r = zr
		default:
			return nil, fmt.Errorf("unsupported content encoding %q", c)
		}
		out, err := io.ReadAll(io.LimitReader(r, int64(maxOut)))
		if err != nil && !(truncated && len(out) > 0) {
			return nil, err
		}
		body = out
	}
	return body, nil
}

// truncateText keeps at most limit runes.
func truncateText(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
