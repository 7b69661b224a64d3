// Package twitchapi contains the Twitch client-credentials token provider and the
// Helix live-status checker used by the reconciliation loop.
package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/lurkbot/telemetry"
)

// AccessTokenProvider is satisfied by *TokenProvider.
type AccessTokenProvider interface {
	GetAccessToken(ctx context.Context, clientID, clientSecret string) (string, error)
}

// HelixClient answers which streamers are live.
type HelixClient struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Tokens       AccessTokenProvider
	HTTPClient   *http.Client

	// MaxConcurrency bounds in-flight status queries per batch; 0 means unbounded.
	MaxConcurrency int
}

func (hc *HelixClient) baseURL() string {
	if hc.BaseURL != "" {
		return hc.BaseURL
	}
	return "https://api.twitch.tv/helix"
}

// bearerClient returns an HTTP client that authorizes every request with token.
func (hc *HelixClient) bearerClient(token string) *http.Client {
	var base http.RoundTripper
	timeout := defaultTimeout
	if hc.HTTPClient != nil {
		base = hc.HTTPClient.Transport
		timeout = hc.HTTPClient.Timeout
	}
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   base,
		},
		Timeout: timeout,
	}
}

// GetLiveStatus reports whether login is broadcasting. A streamer is live when the
// response's data list has exactly one entry; zero or several entries mean not live.
func (hc *HelixClient) GetLiveStatus(ctx context.Context, clientID, token, login string) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "twitchapi.GetLiveStatus", telemetry.StreamerAttr(login))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.baseURL()+"/streams", nil)
	if err != nil {
		return false, err
	}
	q := req.URL.Query()
	q.Set("user_login", login)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-ID", clientID)

	resp, err := hc.bearerClient(token).Do(req)
	if err != nil {
		telemetry.ObserveAPIRequest("streams", 0)
		telemetry.RecordError(span, err)
		return false, fmt.Errorf("streams request for %q: %w", login, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	telemetry.ObserveAPIRequest("streams", resp.StatusCode)
	span.SetAttributes(telemetry.HTTPStatusAttr(resp.StatusCode))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		telemetry.RecordError(span, err)
		return false, fmt.Errorf("read streams response for %q: %w", login, err)
	}

	entries, ok := dataList(body)
	if !ok {
		err := &MalformedResponseError{Login: login, Status: resp.StatusCode, Body: string(body)}
		slog.Error("streams response data is not a list", slog.String("login", login), slog.Int("status", resp.StatusCode), slog.String("body", string(body)), slog.String("client_id", clientID))
		telemetry.RecordError(span, err)
		return false, err
	}
	telemetry.SetSpanSuccess(span)
	return len(entries) == 1, nil
}

// dataList extracts the "data" array from a Helix response body.
func dataList(body []byte) ([]json.RawMessage, bool) {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, false
	}
	raw := bytes.TrimSpace(envelope.Data)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, false
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false
	}
	return entries, true
}

// GetAliveStreamers fetches one fresh access token and then queries every login
// concurrently. Any single failure fails the whole batch; there are no partial results.
func (hc *HelixClient) GetAliveStreamers(ctx context.Context, logins []string) (map[string]struct{}, error) {
	token, err := hc.Tokens.GetAccessToken(ctx, hc.ClientID, hc.ClientSecret)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	if hc.MaxConcurrency > 0 {
		g.SetLimit(hc.MaxConcurrency)
	}
	live := make([]bool, len(logins))
	for i, login := range logins {
		g.Go(func() error {
			ok, err := hc.GetLiveStatus(gctx, hc.ClientID, token, login)
			if err != nil {
				return err
			}
			live[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	alive := make(map[string]struct{}, len(logins))
	for i, login := range logins {
		if live[i] {
			alive[login] = struct{}{}
		}
	}
	return alive, nil
}
