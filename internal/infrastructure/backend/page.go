package backend

import (
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/mariamrf/pegasus/pkg/api"
)

// ExtractCSRFToken reads the first <input name="_csrf_token"> of a rendered
// page. Every form on the board page carries the same token.
func ExtractCSRFToken(r io.Reader) (string, bool) {
	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return "", false
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "input" || !hasAttr {
				continue
			}
			var fieldName, value string
			for {
				key, val, more := z.TagAttr()
				switch string(key) {
				case "name":
					fieldName = string(val)
				case "value":
					value = string(val)
				}
				if !more {
					break
				}
			}
			if fieldName == api.FieldCSRFToken && strings.TrimSpace(value) != "" {
				return strings.TrimSpace(value), true
			}
		}
	}
}
