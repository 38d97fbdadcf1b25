package board

import (
	"strings"

	"golang.org/x/net/html"
)

// LineBreak separates lines in rendered markup.
const LineBreak = "<br>"

var newlines = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// Markup renders user text for display: every newline becomes a line-break
// element and each line is escaped, so content can never inject markup.
// CRLF and lone CR count as one newline.
func Markup(content string) string {
	lines := strings.Split(newlines.Replace(content), "\n")
	for i, line := range lines {
		lines[i] = html.EscapeString(line)
	}
	return strings.Join(lines, LineBreak)
}
