package overlay

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/valyala/fastjson"

	"pagescope/internal/event"
)

// RequestMarkdown describes one request as a markdown document: a Request
// section with URL, method, time and headers, then a Response section.
func RequestMarkdown(req event.NetworkRequest) string {
	var sb strings.Builder
	sb.WriteString("# Request Details\n\n## Request\n\n")
	fmt.Fprintf(&sb, "- **URL:** `%s`\n", req.URL)
	fmt.Fprintf(&sb, "- **Method:** %s\n", req.Method)
	fmt.Fprintf(&sb, "- **Time:** %s\n", req.RequestTime.Format("15:04:05.000"))
	writeHeaders(&sb, "Request Headers", req.RequestHeaders)

	sb.WriteString("\n## Response\n\n")
	fmt.Fprintf(&sb, "- **Status:** %s\n", statusLabel(req))
	fmt.Fprintf(&sb, "- **Duration:** %s\n", req.FormattedDuration())
	fmt.Fprintf(&sb, "- **Size:** %s\n", req.FormattedSize())
	writeHeaders(&sb, "Response Headers", req.ResponseHeaders)
	if req.Error != "" {
		fmt.Fprintf(&sb, "\n### Error\n\n%s\n", req.Error)
	}
	if req.ResponseBody != "" {
		lang := ""
		if fastjson.Validate(req.ResponseBody) == nil {
			lang = "json"
		}
		fence := codeFence(req.ResponseBody)
		fmt.Fprintf(&sb, "\n### Response Body\n\n%s%s\n%s\n%s\n", fence, lang, req.ResponseBody, fence)
	}
	return sb.String()
}

// codeFence returns a backtick fence longer than any backtick run in body.
func codeFence(body string) string {
	longest, run := 0, 0
	for _, r := range body {
		if r == '`' {
			run++
			longest = max(longest, run)
		} else {
			run = 0
		}
	}
	return strings.Repeat("`", max(3, longest+1))
}

func writeHeaders(sb *strings.Builder, title string, headers map[string]string) {
	if len(headers) == 0 {
		return
	}
	names := make([]string, 0, len(headers))
	for k := range headers {
		names = append(names, k)
	}
	sort.Strings(names)
	fmt.Fprintf(sb, "\n### %s\n\n```\n", title)
	for _, k := range names {
		fmt.Fprintf(sb, "%s: %s\n", k, headers[k])
	}
	sb.WriteString("```\n")
}

func statusLabel(req event.NetworkRequest) string {
	switch req.Status {
	case event.StatusSuccess:
		if req.StatusText != "" {
			return fmt.Sprintf("%d %s", req.StatusCode, req.StatusText)
		}
		return fmt.Sprint(req.StatusCode)
	case event.StatusError:
		return "Error"
	}
	return "Pending"
}

// newRenderer returns a markdown renderer. style is a glamour style name;
// "auto" picks one from the terminal.
func newRenderer(style string, width int) (*glamour.TermRenderer, error) {
	if width < 20 {
		width = 20
	}
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
	if style == "" || style == "auto" {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStylePath(style))
	}
	return glamour.NewTermRenderer(opts...)
}
