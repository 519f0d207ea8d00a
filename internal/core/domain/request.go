package domain

import (
	"net/http"
	"strings"
	"time"
)

// DefaultRequestTimeout applies when a request does not set its own.
const DefaultRequestTimeout = 30 * time.Second

// RequestSpec describes one call through a connection.
type RequestSpec struct {
	Method   string            `json:"method"`
	Endpoint string            `json:"endpoint"`
	Data     any               `json:"data,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	Timeout  time.Duration     `json:"timeout,omitempty"`
}

// Normalize fills defaults and upper-cases the method.
func (r *RequestSpec) Normalize() {
	r.Method = strings.ToUpper(strings.TrimSpace(r.Method))
	if r.Method == "" {
		r.Method = http.MethodGet
	}
	if r.Timeout <= 0 {
		r.Timeout = DefaultRequestTimeout
	}
}

// Response is the outcome returned to callers of make-request.
type Response struct {
	Success    bool                `json:"success"`
	Data       any                 `json:"data,omitempty"`
	Error      string              `json:"error,omitempty"`
	StatusCode int                 `json:"statusCode"`
	Headers    map[string][]string `json:"headers,omitempty"`
	Duration   time.Duration       `json:"duration"`
}

// RequestLog records one attempt against an external API.
type RequestLog struct {
	ConnectionID string    `json:"connectionId"`
	TenantID     string    `json:"tenantId"`
	Method       string    `json:"method"`
	Endpoint     string    `json:"endpoint"`
	StatusCode   int       `json:"statusCode"`
	Duration     int64     `json:"duration"` // milliseconds
	Error        string    `json:"error,omitempty"`
	RequestData  any       `json:"requestData,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}
