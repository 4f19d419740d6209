package curl

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/sadopc/hookwait/internal/protocol"
)

// ParseError reports a command string that could not be turned into a request.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return "parse curl: " + e.Reason
}

// ParseCurl parses a curl command string into a canonical request. Parsing is
// best-effort: unknown flags are skipped and only the first http(s) URL is used.
func ParseCurl(input string) (*protocol.Request, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, &ParseError{Input: input, Reason: "empty input"}
	}

	// Handle line continuations
	input = strings.ReplaceAll(input, "\\\r\n", " ")
	input = strings.ReplaceAll(input, "\\\n", " ")

	args := tokenize(input)
	if len(args) == 0 {
		return nil, &ParseError{Input: input, Reason: "empty command"}
	}

	// Strip leading "curl" if present
	if strings.ToLower(args[0]) == "curl" {
		args = args[1:]
	}

	method := "GET"
	headers := make(map[string]string)
	var body protocol.Body
	url := ""

	i := 0
	for i < len(args) {
		arg := args[i]
		switch {
		case arg == "-X" || arg == "--request":
			i++
			if i < len(args) {
				method = strings.ToUpper(args[i])
			}
		case arg == "-H" || arg == "--header":
			i++
			if i < len(args) {
				key, val, err := parseHeader(args[i])
				if err != nil {
					return nil, &ParseError{Input: input, Reason: err.Error()}
				}
				headers[key] = val
			}
		case arg == "-d" || arg == "--data" || arg == "--data-raw" ||
			arg == "--data-binary" || arg == "--data-ascii":
			i++
			if i < len(args) {
				body = protocol.ParseBody(args[i])
			}
		case arg == "-u" || arg == "--user":
			i++
			if i < len(args) {
				headers["Authorization"] = "Basic " + base64.StdEncoding.EncodeToString([]byte(args[i]))
			}
		case arg == "-A" || arg == "--user-agent":
			i++
			if i < len(args) {
				headers["User-Agent"] = args[i]
			}
		case skipsValue(arg):
			i++
		case !strings.HasPrefix(arg, "-"):
			if url == "" && hasURLScheme(arg) {
				url = arg
			}
		}
		i++
	}

	if url == "" {
		return nil, &ParseError{Input: input, Reason: "no URL found in curl command"}
	}

	return &protocol.Request{
		URL:     url,
		Method:  method,
		Headers: headers,
		Body:    body,
	}, nil
}

// skipsValue reports flags whose argument is consumed but not modelled.
func skipsValue(arg string) bool {
	switch arg {
	case "-o", "--output", "-m", "--max-time", "--connect-timeout",
		"-e", "--referer", "-b", "--cookie", "-c", "--cookie-jar",
		"-x", "--proxy", "--retry", "-w", "--write-out", "-F", "--form":
		return true
	}
	return false
}

func hasURLScheme(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// tokenize splits a shell command into tokens, handling single and double quotes.
func tokenize(input string) []string {
	var tokens []string
	var current strings.Builder
	inSingle := false
	inDouble := false
	escaped := false
	quoted := false

	for _, r := range input {
		if escaped {
			current.WriteRune(r)
			escaped = false
			continue
		}

		if r == '\\' && !inSingle {
			escaped = true
			continue
		}

		if r == '\'' && !inDouble {
			inSingle = !inSingle
			quoted = true
			continue
		}

		if r == '"' && !inSingle {
			inDouble = !inDouble
			quoted = true
			continue
		}

		if (r == ' ' || r == '\t' || r == '\n' || r == '\r') && !inSingle && !inDouble {
			if current.Len() > 0 || quoted {
				tokens = append(tokens, current.String())
				current.Reset()
				quoted = false
			}
			continue
		}

		current.WriteRune(r)
	}

	if current.Len() > 0 || quoted {
		tokens = append(tokens, current.String())
	}

	return tokens
}

// parseHeader parses "Key: Value" into key and value.
func parseHeader(s string) (string, string, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("malformed header %q: expected \"Name: Value\"", s)
	}
	key := strings.TrimSpace(parts[0])
	if key == "" {
		return "", "", fmt.Errorf("malformed header %q: empty name", s)
	}
	return key, strings.TrimSpace(parts[1]), nil
}
