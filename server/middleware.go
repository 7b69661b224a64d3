package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"os"
)

// AuthConfig protects the operator endpoints. Auth is off when nothing is set.
type AuthConfig struct {
	Username string
	Password string
	Token    string
}

// LoadAuthConfig reads ADMIN_USERNAME, ADMIN_PASSWORD and ADMIN_TOKEN.
func LoadAuthConfig() *AuthConfig {
	cfg := &AuthConfig{
		Username: os.Getenv("ADMIN_USERNAME"),
		Password: os.Getenv("ADMIN_PASSWORD"),
		Token:    os.Getenv("ADMIN_TOKEN"),
	}
	if !cfg.enabled() {
		slog.Warn("operator authentication not configured - /status and /events are unprotected. Set ADMIN_USERNAME+ADMIN_PASSWORD or ADMIN_TOKEN", slog.String("component", "http"))
	}
	return cfg
}

func (c *AuthConfig) enabled() bool {
	return c != nil && ((c.Username != "" && c.Password != "") || c.Token != "")
}

// adminAuth accepts either the X-Admin-Token header or Basic Auth.
func adminAuth(next http.Handler, cfg *AuthConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !cfg.enabled() {
			next.ServeHTTP(w, r)
			return
		}

		if cfg.Token != "" {
			token := r.Header.Get("X-Admin-Token")
			if token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(cfg.Token)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
		}

		if cfg.Username != "" && cfg.Password != "" {
			username, password, ok := r.BasicAuth()
			if ok {
				usernameMatch := subtle.ConstantTimeCompare([]byte(username), []byte(cfg.Username)) == 1
				passwordMatch := subtle.ConstantTimeCompare([]byte(password), []byte(cfg.Password)) == 1
				if usernameMatch && passwordMatch {
					next.ServeHTTP(w, r)
					return
				}
			}
		}

		w.Header().Set("WWW-Authenticate", `Basic realm="lurkbot"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		slog.Warn("operator auth failed", slog.String("path", r.URL.Path), slog.String("remote_addr", r.RemoteAddr), slog.String("component", "http"))
	})
}
