// Command healthcheck probes the bot's /healthz endpoint and exits non-zero when it
// is unreachable. Used as the container HEALTHCHECK.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	url := "http://localhost" + probeAddr() + "/healthz"
	client := &http.Client{Timeout: 3 * time.Second}
	ctx := context.Background()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		os.Exit(1)
	}
	resp, err := client.Do(req)
	if err != nil {
		os.Exit(1)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("failed to close response body: %v", err)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}

// probeAddr turns HTTP_ADDR (":8080", "0.0.0.0:9000") into the ":port" to probe.
func probeAddr() string {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		return ":8080"
	}
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		return addr[i:]
	}
	return ":" + addr
}
