package audio

import (
	"encoding/base64"
	"strings"
)

// DecodeBase64 decodes standard base64, accepting an optional data: URL
// prefix such as "data:audio/wav;base64," and surrounding whitespace.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ";base64,"); i >= 0 {
			s = s[i+len(";base64,"):]
		}
	}
	return base64.StdEncoding.DecodeString(s)
}
