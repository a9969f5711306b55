package entitlement

import (
	"encoding/json"
	"fmt"
	"time"
)

// Codes set locally. Other codes pass through from the authority or the
// channel.
const (
	CodeRateLimit    = "RATE_LIMIT"
	CodeChannelError = "CHANNEL_ERROR"
)

// RateLimitRetryAfter is the wait suggested to the user after a rate limit.
const RateLimitRetryAfter = 60 * time.Second

// Result is the structured outcome of every gateway call. Fields the
// authority returns beyond the common ones are kept in Data and written back
// out flat by MarshalJSON.
type Result struct {
	Success    bool
	Credit     *float64
	Error      string
	Code       string
	RetryAfter time.Duration
	Data       map[string]any
}

// Failure builds an unsuccessful result.
func Failure(code, msg string) Result {
	return Result{Error: msg, Code: code}
}

// Get returns an extra field from the authority's response.
func (r Result) Get(key string) any {
	return r.Data[key]
}

// String returns an extra string field, or "".
func (r Result) String(key string) string {
	s, _ := r.Data[key].(string)
	return s
}

func (r *Result) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*r = Result{}
	if v, ok := m["success"].(bool); ok {
		r.Success = v
	}
	if v, ok := m["credit"].(float64); ok {
		r.Credit = &v
	}
	switch v := m["error"].(type) {
	case nil:
	case string:
		r.Error = v
	default:
		r.Error = fmt.Sprint(v)
	}
	if v, ok := m["code"].(string); ok {
		r.Code = v
	}
	if v, ok := m["retryAfter"].(float64); ok {
		r.RetryAfter = time.Duration(v) * time.Millisecond
	}
	for _, k := range []string{"success", "credit", "error", "code", "retryAfter"} {
		delete(m, k)
	}
	if len(m) > 0 {
		r.Data = m
	}
	return nil
}

func (r Result) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Data)+5)
	for k, v := range r.Data {
		m[k] = v
	}
	m["success"] = r.Success
	if r.Credit != nil {
		m["credit"] = *r.Credit
	}
	if r.Error != "" {
		m["error"] = r.Error
	}
	if r.Code != "" {
		m["code"] = r.Code
	}
	if r.RetryAfter > 0 {
		m["retryAfter"] = r.RetryAfter.Milliseconds()
	}
	return json.Marshal(m)
}
