package browser

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/chromedp/cdproto/network"
)

// MatchURL reports whether a response URL belongs to the watched endpoint.
// Patterns are plain substrings; the site appends cache-busting query strings.
func MatchURL(rawURL, pattern string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return false
	}
	return strings.Contains(rawURL, pattern)
}

// LookupPath walks a dotted path ("data.token", "data.list.0.id") through a JSON document.
func LookupPath(body []byte, path string) (any, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	cur := doc
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			continue
		}
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[part]
			if !ok {
				return nil, fmt.Errorf("path %q: missing key %q", path, part)
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("path %q: bad index %q", path, part)
			}
			cur = node[idx]
		default:
			return nil, fmt.Errorf("path %q: %q is not a container", path, part)
		}
	}
	return cur, nil
}

// TokenFromBody extracts a non-empty string at path.
func TokenFromBody(body []byte, path string) (string, error) {
	v, err := LookupPath(body, path)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("path %q: no token", path)
	}
	return strings.TrimSpace(s), nil
}

// RejectionMessage inspects a login response envelope and returns the site's
// failure message, or "" when the envelope reports success or has no status.
func RejectionMessage(body []byte) string {
	var env struct {
		Code    *json.Number `json:"code"`
		Success *bool        `json:"success"`
		Msg     string       `json:"msg"`
		Message string       `json:"message"`
	}
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return ""
	}
	msg := env.Msg
	if msg == "" {
		msg = env.Message
	}
	if msg == "" {
		msg = "login rejected"
	}
	if env.Success != nil && !*env.Success {
		return msg
	}
	if env.Code != nil {
		switch env.Code.String() {
		case "0", "200":
			return ""
		default:
			return msg
		}
	}
	return ""
}

// BearerFromHeaders returns a bearer token sent by the page, if any.
// The court site uses a bare "Bearer" header; standard Authorization is also accepted.
func BearerFromHeaders(h network.Headers) string {
	for name, raw := range h {
		val, ok := raw.(string)
		if !ok {
			continue
		}
		switch strings.ToLower(name) {
		case "bearer", "token":
			if v := strings.TrimSpace(val); v != "" {
				return v
			}
		case "authorization":
			if strings.HasPrefix(val, "Bearer ") {
				if v := strings.TrimSpace(strings.TrimPrefix(val, "Bearer ")); v != "" {
					return v
				}
			}
		}
	}
	return ""
}
