package twitchapi

import (
	"net/http"
	"time"
)

const defaultTimeout = 10 * time.Second

// NewHTTPClient returns the client shared by the token provider and the checker.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}
