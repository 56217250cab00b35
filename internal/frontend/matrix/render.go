// ABOUTME: Renders console responses as Matrix messages
// ABOUTME: Buttons become a command list; Markdown is converted to HTML with goldmark

package matrix

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/2389/assistant-manager/internal/console"
)

var markdown = goldmark.New(goldmark.WithRendererOptions(html.WithHardWraps()))

// Render returns the plain body and the HTML formatted body for resp.
// Each button is listed as the command that triggers it.
func Render(resp console.Response, prefix string) (string, string) {
	var b strings.Builder
	b.WriteString(resp.Text)
	if len(resp.Buttons) > 0 {
		b.WriteString("\n\n")
		for _, btn := range resp.Buttons {
			fmt.Fprintf(&b, "- `%s%s` %s\n", prefix, btn.Action, btn.Label)
		}
	}
	body := strings.TrimRight(b.String(), "\n")

	var buf bytes.Buffer
	if err := markdown.Convert([]byte(body), &buf); err != nil {
		return body, ""
	}
	return body, strings.TrimSpace(buf.String())
}
