package event

import (
	"strings"
	"time"
)

// StorageSnapshot is a full capture of the page's key-value stores and
// cookie string. Snapshots are replaced wholesale, never merged.
type StorageSnapshot struct {
	LocalStorage   map[string]string `json:"local_storage"`
	SessionStorage map[string]string `json:"session_storage"`
	Cookies        string            `json:"cookies"`
	CapturedAt     time.Time         `json:"captured_at"`
}

// Cookie is one name=value pair parsed from the raw cookie string.
type Cookie struct {
	Name  string
	Value string
}

// Clone returns a deep copy.
func (s StorageSnapshot) Clone() StorageSnapshot {
	out := s
	out.LocalStorage = cloneMap(s.LocalStorage)
	out.SessionStorage = cloneMap(s.SessionStorage)
	return out
}

// TotalSize sums key, value and cookie bytes.
func (s StorageSnapshot) TotalSize() int {
	size := len(s.Cookies)
	for k, v := range s.LocalStorage {
		size += len(k) + len(v)
	}
	for k, v := range s.SessionStorage {
		size += len(k) + len(v)
	}
	return size
}

// FormattedTotalSize renders TotalSize for display.
func (s StorageSnapshot) FormattedTotalSize() string {
	return FormatBytes(s.TotalSize())
}

// ParsedCookies splits the raw "a=1; b=2" string. Segments without '=' are skipped.
func (s StorageSnapshot) ParsedCookies() []Cookie {
	var out []Cookie
	for _, part := range strings.Split(s.Cookies, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || name == "" {
			continue
		}
		out = append(out, Cookie{Name: name, Value: value})
	}
	return out
}
