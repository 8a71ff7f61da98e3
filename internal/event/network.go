package event

import (
	"fmt"
	"time"
)

// RequestStatus is the lifecycle state of a tracked request.
// Transitions are pending -> success or pending -> error, once.
type RequestStatus string

const (
	StatusPending RequestStatus = "pending"
	StatusSuccess RequestStatus = "success"
	StatusError   RequestStatus = "error"
)

// Terminal reports whether the status can no longer change.
func (s RequestStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

// NetworkRequest is a request observed by the page, correlated with its
// completion by ID.
type NetworkRequest struct {
	ID              string            `json:"id"`
	URL             string            `json:"url"`
	Method          string            `json:"method"`
	RequestHeaders  map[string]string `json:"request_headers,omitempty"`
	RequestTime     time.Time         `json:"request_time"`
	Status          RequestStatus     `json:"status"`
	StatusCode      int               `json:"status_code,omitempty"`
	StatusText      string            `json:"status_text,omitempty"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	ResponseBody    string            `json:"response_body,omitempty"`
	Error           string            `json:"error,omitempty"`
	Duration        *time.Duration    `json:"duration,omitempty"`
}

// Clone returns a deep copy safe to hand outside the owning store.
func (r NetworkRequest) Clone() NetworkRequest {
	out := r
	out.RequestHeaders = cloneMap(r.RequestHeaders)
	out.ResponseHeaders = cloneMap(r.ResponseHeaders)
	if r.Duration != nil {
		d := *r.Duration
		out.Duration = &d
	}
	return out
}

// FormattedDuration renders the duration as "123ms" or "1.25s", or "-".
func (r NetworkRequest) FormattedDuration() string {
	if r.Duration == nil {
		return "-"
	}
	d := *r.Duration
	if d < time.Second {
		return fmt.Sprintf("%.0fms", float64(d)/float64(time.Millisecond))
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}

// FormattedSize renders the captured body size, or "-" when none.
func (r NetworkRequest) FormattedSize() string {
	if r.ResponseBody == "" {
		return "-"
	}
	return FormatBytes(len(r.ResponseBody))
}

// OutcomeKind discriminates request completions.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeFailure
)

// Outcome is the terminal result applied to a pending request.
type Outcome struct {
	Kind       OutcomeKind
	StatusCode int
	StatusText string
	Headers    map[string]string
	Body       string
	Error      string
	Duration   *time.Duration
}

// SuccessOutcome builds a completed-response outcome.
func SuccessOutcome(status int, statusText string, headers map[string]string, body string, duration time.Duration) Outcome {
	return Outcome{
		Kind:       OutcomeSuccess,
		StatusCode: status,
		StatusText: statusText,
		Headers:    headers,
		Body:       body,
		Duration:   &duration,
	}
}

// FailureOutcome builds a transport-failure outcome. duration may be nil.
func FailureOutcome(errMsg string, duration *time.Duration) Outcome {
	return Outcome{Kind: OutcomeFailure, Error: errMsg, Duration: duration}
}

// Apply moves a pending request to its terminal status.
// It returns false, leaving r untouched, if r is already terminal.
func (r *NetworkRequest) Apply(o Outcome) bool {
	if r.Status.Terminal() {
		return false
	}
	switch o.Kind {
	case OutcomeSuccess:
		r.Status = StatusSuccess
		r.StatusCode = o.StatusCode
		r.StatusText = o.StatusText
		r.ResponseHeaders = cloneMap(o.Headers)
		r.ResponseBody = o.Body
	case OutcomeFailure:
		r.Status = StatusError
		r.Error = o.Error
	}
	if o.Duration != nil {
		d := *o.Duration
		r.Duration = &d
	}
	return true
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// FormatBytes renders a byte count as B, KB or MB.
func FormatBytes(n int) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%d B", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
	}
}
