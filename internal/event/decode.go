package event

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/valyala/fastjson"
)

// ErrMalformed is wrapped by every decode failure.
var ErrMalformed = errors.New("malformed payload")

// DecodeError describes why a boundary payload was rejected.
type DecodeError struct {
	Channel Channel
	Field   string
	Reason  string
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s payload: %s", e.Channel, e.Reason)
	}
	return fmt.Sprintf("%s payload: field %q: %s", e.Channel, e.Field, e.Reason)
}

func (e *DecodeError) Unwrap() error { return ErrMalformed }

func malformed(ch Channel, field, reason string) error {
	return &DecodeError{Channel: ch, Field: field, Reason: reason}
}

var parsers fastjson.ParserPool

// NetworkEvent is one member of the network channel union.
type NetworkEvent interface {
	RequestID() string
	networkEvent()
}

// RequestStarted is a decoded "request" message.
type RequestStarted struct {
	ID          string
	URL         string
	Method      string
	Headers     map[string]string
	RequestTime time.Time
}

// ResponseReceived is a decoded "response" message.
type ResponseReceived struct {
	ID         string
	Status     int
	StatusText string
	Headers    map[string]string
	Body       string
	Duration   time.Duration
}

// RequestFailed is a decoded "error" message.
type RequestFailed struct {
	ID       string
	Error    string
	Duration *time.Duration
}

func (e RequestStarted) RequestID() string   { return e.ID }
func (e ResponseReceived) RequestID() string { return e.ID }
func (e RequestFailed) RequestID() string    { return e.ID }

func (RequestStarted) networkEvent()   {}
func (ResponseReceived) networkEvent() {}
func (RequestFailed) networkEvent()    {}

// Outcome converts a completion into the aggregator's outcome form.
func (e ResponseReceived) Outcome() Outcome {
	return SuccessOutcome(e.Status, e.StatusText, e.Headers, e.Body, e.Duration)
}

// Outcome converts a failure into the aggregator's outcome form.
func (e RequestFailed) Outcome() Outcome {
	return FailureOutcome(e.Error, e.Duration)
}

// DecodeConsole validates a console payload and builds a LogEntry.
func DecodeConsole(raw []byte) (LogEntry, error) {
	p := parsers.Get()
	defer parsers.Put(p)

	v, err := parseObject(p, raw, ChannelConsole)
	if err != nil {
		return LogEntry{}, err
	}

	levelStr, err := requiredString(v, ChannelConsole, "level")
	if err != nil {
		return LogEntry{}, err
	}
	level, ok := ParseLevel(levelStr)
	if !ok {
		return LogEntry{}, malformed(ChannelConsole, "level", "unknown level "+strconv.Quote(levelStr))
	}
	message, err := requiredString(v, ChannelConsole, "message")
	if err != nil {
		return LogEntry{}, err
	}
	source, err := optionalString(v, ChannelConsole, "source")
	if err != nil {
		return LogEntry{}, err
	}
	originStr, err := optionalString(v, ChannelConsole, "origin")
	if err != nil {
		return LogEntry{}, err
	}

	entry := NewLogEntry(level, message, source, OriginPage)
	if originStr == string(OriginNetwork) {
		entry.Origin = OriginNetwork
	}
	if ts, ok, err := optionalNumber(v, ChannelConsole, "timestamp"); err != nil {
		return LogEntry{}, err
	} else if ok && ts > 0 {
		entry.Timestamp = MillisToTime(ts)
	}
	return entry, nil
}

// DecodeNetwork validates a network payload and returns the typed member
// selected by its "type" tag.
func DecodeNetwork(raw []byte) (NetworkEvent, error) {
	p := parsers.Get()
	defer parsers.Put(p)

	v, err := parseObject(p, raw, ChannelNetwork)
	if err != nil {
		return nil, err
	}
	typ, err := requiredString(v, ChannelNetwork, "type")
	if err != nil {
		return nil, err
	}
	id, err := requiredString(v, ChannelNetwork, "id")
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, malformed(ChannelNetwork, "id", "empty correlation id")
	}

	switch NetworkMessageType(typ) {
	case NetworkRequestType:
		return decodeRequest(v, id)
	case NetworkResponseType:
		return decodeResponse(v, id)
	case NetworkErrorType:
		return decodeFailure(v, id)
	}
	return nil, malformed(ChannelNetwork, "type", "unknown type "+strconv.Quote(typ))
}

func decodeRequest(v *fastjson.Value, id string) (NetworkEvent, error) {
	url, err := requiredString(v, ChannelNetwork, "url")
	if err != nil {
		return nil, err
	}
	method, err := optionalString(v, ChannelNetwork, "method")
	if err != nil {
		return nil, err
	}
	if method == "" {
		method = "GET"
	}
	headers, err := optionalStringMap(v, ChannelNetwork, "headers", true)
	if err != nil {
		return nil, err
	}
	started := RequestStarted{ID: id, URL: url, Method: method, Headers: headers, RequestTime: time.Now()}
	if ts, ok, err := optionalNumber(v, ChannelNetwork, "timestamp"); err != nil {
		return nil, err
	} else if ok && ts > 0 {
		started.RequestTime = MillisToTime(ts)
	}
	return started, nil
}

func decodeResponse(v *fastjson.Value, id string) (NetworkEvent, error) {
	status, ok, err := optionalNumber(v, ChannelNetwork, "status")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, malformed(ChannelNetwork, "status", "missing")
	}
	statusText, err := optionalString(v, ChannelNetwork, "statusText")
	if err != nil {
		return nil, err
	}
	headers, err := optionalStringMap(v, ChannelNetwork, "headers", true)
	if err != nil {
		return nil, err
	}
	body, err := optionalString(v, ChannelNetwork, "body")
	if err != nil {
		return nil, err
	}
	duration, _, err := optionalNumber(v, ChannelNetwork, "duration")
	if err != nil {
		return nil, err
	}
	return ResponseReceived{
		ID:         id,
		Status:     int(status),
		StatusText: statusText,
		Headers:    headers,
		Body:       body,
		Duration:   millis(duration),
	}, nil
}

func decodeFailure(v *fastjson.Value, id string) (NetworkEvent, error) {
	msg, err := requiredString(v, ChannelNetwork, "error")
	if err != nil {
		return nil, err
	}
	failed := RequestFailed{ID: id, Error: msg}
	if d, ok, err := optionalNumber(v, ChannelNetwork, "duration"); err != nil {
		return nil, err
	} else if ok {
		dur := millis(d)
		failed.Duration = &dur
	}
	return failed, nil
}

// DecodeStorage validates a storage payload. Missing stores decode as empty.
func DecodeStorage(raw []byte) (StorageSnapshot, error) {
	p := parsers.Get()
	defer parsers.Put(p)

	v, err := parseObject(p, raw, ChannelStorage)
	if err != nil {
		return StorageSnapshot{}, err
	}
	local, err := optionalStringMap(v, ChannelStorage, "localStorage", false)
	if err != nil {
		return StorageSnapshot{}, err
	}
	session, err := optionalStringMap(v, ChannelStorage, "sessionStorage", false)
	if err != nil {
		return StorageSnapshot{}, err
	}
	cookies, err := optionalString(v, ChannelStorage, "cookies")
	if err != nil {
		return StorageSnapshot{}, err
	}
	if local == nil {
		local = map[string]string{}
	}
	if session == nil {
		session = map[string]string{}
	}
	return StorageSnapshot{
		LocalStorage:   local,
		SessionStorage: session,
		Cookies:        cookies,
		CapturedAt:     time.Now(),
	}, nil
}

func millis(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}

// parseObject parses raw and requires a top-level object.
// Values returned by p are only valid until p is returned to the pool.
func parseObject(p *fastjson.Parser, raw []byte, ch Channel) (*fastjson.Value, error) {
	v, err := p.ParseBytes(raw)
	if err != nil {
		return nil, malformed(ch, "", "invalid JSON: "+err.Error())
	}
	if v.Type() != fastjson.TypeObject {
		return nil, malformed(ch, "", "expected object, got "+v.Type().String())
	}
	return v, nil
}

func requiredString(v *fastjson.Value, ch Channel, field string) (string, error) {
	f := v.Get(field)
	if f == nil {
		return "", malformed(ch, field, "missing")
	}
	b, err := f.StringBytes()
	if err != nil {
		return "", malformed(ch, field, "expected string, got "+f.Type().String())
	}
	return string(b), nil
}

// optionalString treats absent and null as "".
func optionalString(v *fastjson.Value, ch Channel, field string) (string, error) {
	f := v.Get(field)
	if f == nil || f.Type() == fastjson.TypeNull {
		return "", nil
	}
	b, err := f.StringBytes()
	if err != nil {
		return "", malformed(ch, field, "expected string, got "+f.Type().String())
	}
	return string(b), nil
}

func optionalNumber(v *fastjson.Value, ch Channel, field string) (float64, bool, error) {
	f := v.Get(field)
	if f == nil || f.Type() == fastjson.TypeNull {
		return 0, false, nil
	}
	n, err := f.Float64()
	if err != nil {
		return 0, false, malformed(ch, field, "expected number, got "+f.Type().String())
	}
	return n, true, nil
}

// optionalStringMap reads an object of strings. With coerce set, number and
// boolean values are stringified (header objects built by page code are
// loosely typed); otherwise any non-string value is rejected.
func optionalStringMap(v *fastjson.Value, ch Channel, field string, coerce bool) (map[string]string, error) {
	f := v.Get(field)
	if f == nil || f.Type() == fastjson.TypeNull {
		return nil, nil
	}
	obj, err := f.Object()
	if err != nil {
		return nil, malformed(ch, field, "expected object, got "+f.Type().String())
	}

	out := make(map[string]string, obj.Len())
	var bad string
	obj.Visit(func(key []byte, val *fastjson.Value) {
		if bad != "" {
			return
		}
		switch val.Type() {
		case fastjson.TypeString:
			out[string(key)] = string(val.GetStringBytes())
		case fastjson.TypeNumber, fastjson.TypeTrue, fastjson.TypeFalse:
			if coerce {
				out[string(key)] = val.String()
				return
			}
			bad = string(key)
		case fastjson.TypeNull:
			if coerce {
				return
			}
			bad = string(key)
		default:
			bad = string(key)
		}
	})
	if bad != "" {
		return nil, malformed(ch, field+"."+bad, "expected string value")
	}
	return out, nil
}
