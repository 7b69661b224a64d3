package twitchapi

import "fmt"

// AuthServiceError reports a server-side failure (5xx) of the OAuth token endpoint.
// The caller must abort the current cycle rather than continue without a token.
type AuthServiceError struct {
	Status int
	Body   string
}

func (e *AuthServiceError) Error() string {
	return fmt.Sprintf("twitch token endpoint server error: status %d: %s", e.Status, e.Body)
}

// MissingTokenError reports a token response without a usable access_token field.
type MissingTokenError struct {
	Status int
	Body   string
}

func (e *MissingTokenError) Error() string {
	return fmt.Sprintf("access_token not present in twitch token response (status %d): %s", e.Status, e.Body)
}

// MalformedResponseError reports a streams response whose "data" field is not a list.
// It usually means the token or the client credentials were rejected.
type MalformedResponseError struct {
	Login  string
	Status int
	Body   string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed streams response for %q (status %d): %s", e.Login, e.Status, e.Body)
}
