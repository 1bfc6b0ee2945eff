// Package observe renders proxied requests and responses into log records.
package observe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// EmptyBody is logged in place of an empty payload.
const EmptyBody = "<empty body>"

// binaryTypes are content-type prefixes whose payloads are never decoded.
var binaryTypes = []string{
	"application/octet-stream",
	"application/zip",
	"image/",
	"audio/",
	"video/",
}

// Formatter produces bounded, human-readable renderings of payloads.
type Formatter struct {
	maxBytes int
}

// NewFormatter returns a Formatter that shows at most maxBytes of a body.
func NewFormatter(maxBytes int) *Formatter {
	return &Formatter{maxBytes: maxBytes}
}

// Format renders a fully buffered body.
func (f *Formatter) Format(body []byte, contentType string) string {
	return f.FormatPreview(Preview{Data: body, Size: int64(len(body)), Complete: true}, contentType)
}

// FormatPreview renders a possibly partial body. The size check runs before
// any JSON parsing so pathological payloads cost at most maxBytes of work.
func (f *Formatter) FormatPreview(p Preview, contentType string) string {
	if len(p.Data) == 0 {
		return EmptyBody
	}

	if isBinary(contentType) {
		return binarySummary(contentType, p.sizeString())
	}

	if !p.Complete || len(p.Data) > f.maxBytes {
		shown := p.Data
		if len(shown) > f.maxBytes {
			shown = shown[:f.maxBytes]
		}
		return fmt.Sprintf("<truncated> [Size: %s bytes, showing first %d bytes]\n%s",
			p.sizeString(), len(shown), strings.ToValidUTF8(string(shown), "�"))
	}

	if isJSON(contentType) {
		var buf bytes.Buffer
		if err := json.Indent(&buf, bytes.TrimSpace(p.Data), "", "  "); err == nil {
			return buf.String()
		}
	}

	if utf8.Valid(p.Data) {
		return string(p.Data)
	}
	return binarySummary(contentType, p.sizeString())
}

func binarySummary(contentType, size string) string {
	return fmt.Sprintf("<binary data> [Content-Type: %s, Size: %s bytes]", contentType, size)
}

func isBinary(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	for _, prefix := range binaryTypes {
		if strings.HasPrefix(ct, prefix) {
			return true
		}
	}
	return false
}

func isJSON(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "application/json")
}
