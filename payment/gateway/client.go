package gateway

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/imroc/req/v3"
)

const defaultTimeout = 15 * time.Second

func newClient(baseURL string, timeout time.Duration) *req.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return req.C().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetCommonHeader("Accept", "application/json").
		SetUserAgent("go-storefront")
}

type apiError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// upstream converts a failed call into an *UpstreamError, or returns nil when
// the response is a success.
func upstream(name Name, resp *req.Response, err error) error {
	if err != nil {
		if resp == nil || resp.Response == nil {
			return &UpstreamError{Gateway: name, Message: err.Error()}
		}
	}
	if resp.IsSuccessState() && err == nil {
		return nil
	}

	msg := resp.Status
	var body apiError
	if raw := resp.Bytes(); len(raw) > 0 {
		if json.Unmarshal(raw, &body) == nil && (body.Message != "" || body.Error != "") {
			msg = body.Message
			if msg == "" {
				msg = body.Error
			}
		} else {
			msg = truncate(strings.TrimSpace(string(raw)), 200)
		}
	}
	if err != nil && msg == "" {
		msg = err.Error()
	}
	return &UpstreamError{Gateway: name, StatusCode: resp.StatusCode, Message: msg}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func isJSON(contentType string, body []byte) bool {
	if strings.Contains(contentType, "json") {
		return true
	}
	trimmed := strings.TrimSpace(string(body))
	return strings.HasPrefix(trimmed, "{")
}
