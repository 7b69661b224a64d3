package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/onnwee/lurkbot/telemetry"
)

const (
	tracerName = "twitchapi"

	// maxBodyBytes bounds how much of a response body is read and logged.
	maxBodyBytes = 1 << 20
)

// TokenProvider exchanges client credentials for an app access token.
// It keeps no cache: every call performs a fresh client-credentials grant.
// NOTE: This token CANNOT be used for IRC chat; chat requires the bot's user OAuth token.
type TokenProvider struct {
	Endpoint   string
	HTTPClient *http.Client
}

type tokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	GrantType    string `json:"grant_type"`
}

func (p *TokenProvider) http() *http.Client {
	if p.HTTPClient != nil {
		return p.HTTPClient
	}
	return http.DefaultClient
}

func (p *TokenProvider) endpoint() string {
	if p.Endpoint != "" {
		return p.Endpoint
	}
	return "https://id.twitch.tv/oauth2/token"
}

// GetAccessToken performs a client-credentials grant and returns the bearer token.
// A 5xx response fails with *AuthServiceError. Any other non-2xx response is logged
// and the body is still searched for a token; if none is found the call fails with
// *MissingTokenError.
func (p *TokenProvider) GetAccessToken(ctx context.Context, clientID, clientSecret string) (string, error) {
	if clientID == "" || clientSecret == "" {
		return "", errors.New("missing client id/secret for twitch app token")
	}
	ctx, span := telemetry.StartSpan(ctx, tracerName, "twitchapi.GetAccessToken")
	defer span.End()

	payload, err := json.Marshal(tokenRequest{ClientID: clientID, ClientSecret: clientSecret, GrantType: "client_credentials"})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.http().Do(req)
	if err != nil {
		telemetry.ObserveAPIRequest("token", 0)
		telemetry.RecordError(span, err)
		return "", fmt.Errorf("twitch token request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	telemetry.ObserveAPIRequest("token", resp.StatusCode)
	span.SetAttributes(telemetry.HTTPStatusAttr(resp.StatusCode))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		telemetry.RecordError(span, err)
		return "", fmt.Errorf("read twitch token response: %w", err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		err := &AuthServiceError{Status: resp.StatusCode, Body: string(body)}
		slog.Error("failed to fetch access token", slog.Int("status", resp.StatusCode), slog.String("body", string(body)), slog.String("client_id", clientID))
		telemetry.RecordError(span, err)
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Warn("access token response status not in 2xx range", slog.Int("status", resp.StatusCode), slog.String("body", string(body)), slog.String("client_id", clientID))
	}

	var fields map[string]any
	_ = json.Unmarshal(body, &fields)
	token, _ := fields["access_token"].(string)
	if token == "" {
		err := &MissingTokenError{Status: resp.StatusCode, Body: string(body)}
		slog.Error("access token not present in response", slog.Int("status", resp.StatusCode), slog.String("body", string(body)))
		telemetry.RecordError(span, err)
		return "", err
	}
	telemetry.SetSpanSuccess(span)
	return token, nil
}
