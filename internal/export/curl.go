// Package export renders canonical requests back into shell commands.
package export

import (
	"sort"
	"strings"

	"github.com/alessio/shellescape"

	"github.com/sadopc/hookwait/internal/protocol"
)

// AsCurl converts a request to a curl command string that ParseCurl reads
// back into an equivalent request. Headers are emitted in sorted order.
func AsCurl(req *protocol.Request) string {
	parts := []string{"curl"}

	if req.Method != "" && req.Method != "GET" {
		parts = append(parts, "-X", req.Method)
	}

	keys := make([]string, 0, len(req.Headers))
	for k := range req.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, "-H", shellescape.Quote(k+": "+req.Headers[k]))
	}

	if !req.Body.IsZero() {
		parts = append(parts, "-d", shellescape.Quote(req.Body.String()))
	}

	parts = append(parts, shellescape.Quote(req.URL))
	return strings.Join(parts, " ")
}
