package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"pagescope/internal/aggregator"
	"pagescope/internal/event"
	"pagescope/internal/overlay"
)

// linePrinter streams captured activity as one line per event. It is the
// debugger delegate for logs and an aggregator observer for requests and
// storage.
type linePrinter struct {
	mu     sync.Mutex
	w      io.Writer
	styles overlay.Styles
	// last printed status per request id
	seen map[string]event.RequestStatus
	// levels to print; empty prints all
	levels map[event.Level]bool
}

func newLinePrinter(w io.Writer, levels []event.Level) *linePrinter {
	lp := &linePrinter{
		w:      w,
		styles: overlay.DefaultStyles(),
		seen:   make(map[string]event.RequestStatus),
		levels: make(map[event.Level]bool, len(levels)),
	}
	for _, l := range levels {
		lp.levels[l] = true
	}
	return lp
}

func (lp *linePrinter) OnLogReceived(entry event.LogEntry) {
	if len(lp.levels) > 0 && !lp.levels[entry.Level] {
		return
	}
	lp.println(formatLog(lp.styles, entry))
}

func (lp *linePrinter) OnVisibilityToggled(bool) {}

// Observe prints request transitions and storage snapshots.
func (lp *linePrinter) Observe(u aggregator.Update) {
	switch u.Kind {
	case aggregator.RequestsChanged:
		lp.mu.Lock()
		var lines []string
		live := make(map[string]event.RequestStatus, len(u.Requests))
		for _, req := range u.Requests {
			live[req.ID] = req.Status
			if prev, ok := lp.seen[req.ID]; ok && prev == req.Status {
				continue
			}
			lines = append(lines, formatRequest(lp.styles, req))
		}
		lp.seen = live
		lp.mu.Unlock()
		for _, l := range lines {
			lp.println(l)
		}
	case aggregator.StorageChanged:
		lp.println(formatStorage(lp.styles, u.Storage))
	}
}

func (lp *linePrinter) println(line string) {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	fmt.Fprintln(lp.w, line)
}

func formatLog(s overlay.Styles, e event.LogEntry) string {
	line := fmt.Sprintf("%s %-7s %s", e.FormattedTimestamp(), overlay.LevelBadge(e.Level), e.Message)
	if e.Source != "" {
		line += "  (" + e.Source + ")"
	}
	return s.Level(e.Level).Render(line)
}

func formatRequest(s overlay.Styles, r event.NetworkRequest) string {
	var status string
	switch r.Status {
	case event.StatusSuccess:
		status = fmt.Sprintf("%d", r.StatusCode)
	case event.StatusError:
		status = "ERR " + r.Error
	default:
		status = "..."
	}
	line := fmt.Sprintf("%s %-7s %s %s %s", r.RequestTime.Format("15:04:05.000"), "[NET]",
		r.Method, r.URL, s.RequestStatus(r.Status).Render(status))
	if r.Duration != nil {
		line += " " + s.Muted.Render(r.FormattedDuration())
	}
	return line
}

func formatStorage(s overlay.Styles, snap event.StorageSnapshot) string {
	keys := func(m map[string]string) string {
		out := make([]string, 0, len(m))
		for k := range m {
			out = append(out, k)
		}
		sort.Strings(out)
		return "[" + strings.Join(out, " ") + "]"
	}
	return lipgloss.JoinHorizontal(lipgloss.Top,
		fmt.Sprintf("%s %-7s ", snap.CapturedAt.Format("15:04:05.000"), "[STORE]"),
		s.Muted.Render(fmt.Sprintf("local=%s session=%s cookies=%d (%s)",
			keys(snap.LocalStorage), keys(snap.SessionStorage),
			len(snap.ParsedCookies()), snap.FormattedTotalSize())))
}
