package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validJSON = `{
	"bot_username": "lurkbot",
	"client_id": "cid",
	"client_secret": "csecret",
	"oauth_token": "abcdef123456",
	"channels": ["alice", "bob"],
	"wait_time": 60,
	"verbose": false
}`

func clearCredentialEnv(t *testing.T) {
	t.Helper()
	for _, env := range envOverrides {
		t.Setenv(env, "")
		if err := os.Unsetenv(env); err != nil {
			t.Fatalf("unset %s: %v", env, err)
		}
	}
}

func TestLoadValidJSON(t *testing.T) {
	clearCredentialEnv(t)
	cfg, err := Load(writeConfig(t, "config.json", validJSON))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.BotUsername != "lurkbot" || cfg.ClientID != "cid" || cfg.ClientSecret != "csecret" {
		t.Errorf("unexpected credentials: %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.Channels, []string{"alice", "bob"}) {
		t.Errorf("Channels = %v", cfg.Channels)
	}
	if cfg.WaitTime != time.Minute {
		t.Errorf("WaitTime = %v, want 1m", cfg.WaitTime)
	}
	if cfg.Verbose {
		t.Errorf("Verbose = true, want false")
	}
	if cfg.IRCAddress != DefaultIRCAddress || !cfg.IRCTLS {
		t.Errorf("gateway defaults not applied: %q tls=%v", cfg.IRCAddress, cfg.IRCTLS)
	}
	if cfg.ReconnectDelay != 2*time.Second {
		t.Errorf("ReconnectDelay = %v, want 2s", cfg.ReconnectDelay)
	}
	if cfg.DisconnectTimeout != 5*time.Second || cfg.StopTimeout != 5*time.Second {
		t.Errorf("shutdown bounds = %v/%v, want 5s/5s", cfg.DisconnectTimeout, cfg.StopTimeout)
	}
	if cfg.TokenURL != DefaultTokenURL || cfg.HelixURL != DefaultHelixURL {
		t.Errorf("api defaults not applied: %q %q", cfg.TokenURL, cfg.HelixURL)
	}
}

func TestLoadValidYAML(t *testing.T) {
	clearCredentialEnv(t)
	body := `bot_username: lurkbot
client_id: cid
client_secret: csecret
oauth_token: oauth:abcdef
channels:
  - carol
wait_time: 15
verbose: true
helix_url: http://localhost:9999/helix/
`
	cfg, err := Load(writeConfig(t, "config.yaml", body))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.WaitTime != 15*time.Second || !cfg.Verbose {
		t.Errorf("got wait=%v verbose=%v", cfg.WaitTime, cfg.Verbose)
	}
	if cfg.HelixURL != "http://localhost:9999/helix" {
		t.Errorf("HelixURL = %q, want trailing slash trimmed", cfg.HelixURL)
	}
}

func TestLoadEnumeratesEveryMissingKey(t *testing.T) {
	clearCredentialEnv(t)
	_, err := Load(writeConfig(t, "config.json", `{"bot_username": "lurkbot", "verbose": true}`))
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConfigError, got %v", err)
	}
	want := []string{"client_id", "client_secret", "oauth_token", "channels", "wait_time"}
	if !reflect.DeepEqual(ce.Keys(), want) {
		t.Errorf("Keys() = %v, want %v", ce.Keys(), want)
	}
	for _, p := range ce.Problems {
		if p.Kind != ProblemMissing {
			t.Errorf("problem for %s kind = %s, want missing", p.Key, p.Kind)
		}
	}
}

func TestLoadEnumeratesEmptyAndTypeProblemsTogether(t *testing.T) {
	clearCredentialEnv(t)
	body := `{
		"bot_username": "",
		"client_id": 42,
		"client_secret": "csecret",
		"oauth_token": "tok",
		"channels": [],
		"wait_time": "60",
		"verbose": "yes"
	}`
	_, err := Load(writeConfig(t, "config.json", body))
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConfigError, got %v", err)
	}
	got := map[string]ProblemKind{}
	for _, p := range ce.Problems {
		got[p.Key] = p.Kind
	}
	want := map[string]ProblemKind{
		"bot_username": ProblemEmpty,
		"client_id":    ProblemType,
		"channels":     ProblemEmpty,
		"wait_time":    ProblemType,
		"verbose":      ProblemType,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("problems = %v, want %v", got, want)
	}
	if !strings.Contains(err.Error(), `"verbose"`) || !strings.Contains(err.Error(), `"bot_username"`) {
		t.Errorf("error message should name every key: %v", err)
	}
}

func TestLoadRejectsNonPositiveWaitTime(t *testing.T) {
	clearCredentialEnv(t)
	tests := []struct {
		name string
		wait string
		kind ProblemKind
	}{
		{"zero", "0", ProblemEmpty},
		{"negative", "-5", ProblemInvalid},
		{"fractional", "1.5", ProblemType},
		{"overflows duration", "9300000000", ProblemInvalid},
		{"beyond int64", "1e30", ProblemInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := strings.Replace(validJSON, `"wait_time": 60`, `"wait_time": `+tt.wait, 1)
			_, err := Load(writeConfig(t, "config.json", body))
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("expected *ConfigError, got %v", err)
			}
			if len(ce.Problems) != 1 || ce.Problems[0].Key != "wait_time" || ce.Problems[0].Kind != tt.kind {
				t.Errorf("problems = %+v, want one %s problem on wait_time", ce.Problems, tt.kind)
			}
		})
	}
}

func TestLoadRejectsOverflowingOptionalDurations(t *testing.T) {
	clearCredentialEnv(t)
	for _, key := range []string{"reconnect_delay_seconds", "disconnect_timeout_seconds", "stop_timeout_seconds", "http_timeout_seconds"} {
		t.Run(key, func(t *testing.T) {
			body := strings.Replace(validJSON, `"verbose": false`, `"verbose": false, "`+key+`": 9300000000`, 1)
			_, err := Load(writeConfig(t, "config.json", body))
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("expected *ConfigError, got %v", err)
			}
			if len(ce.Problems) != 1 || ce.Problems[0].Key != key || ce.Problems[0].Kind != ProblemInvalid {
				t.Errorf("problems = %+v, want one invalid problem on %s", ce.Problems, key)
			}
		})
	}
}

func TestLoadAcceptsLargestDuration(t *testing.T) {
	clearCredentialEnv(t)
	body := strings.Replace(validJSON, `"wait_time": 60`, `"wait_time": `+strconv.FormatInt(maxDurationSeconds, 10), 1)
	cfg, err := Load(writeConfig(t, "config.json", body))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WaitTime <= 0 {
		t.Fatalf("WaitTime = %v, want positive", cfg.WaitTime)
	}
}

func TestLoadChannelListWithNonString(t *testing.T) {
	clearCredentialEnv(t)
	body := strings.Replace(validJSON, `["alice", "bob"]`, `["alice", 7]`, 1)
	_, err := Load(writeConfig(t, "config.json", body))
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConfigError, got %v", err)
	}
	if ce.Problems[0].Key != "channels" || ce.Problems[0].Kind != ProblemType {
		t.Errorf("problem = %+v, want channels type mismatch", ce.Problems[0])
	}
}

func TestLoadCredentialEnvOverride(t *testing.T) {
	clearCredentialEnv(t)
	t.Setenv("TWITCH_OAUTH_TOKEN", "oauth:fromenv")
	t.Setenv("TWITCH_CLIENT_SECRET", "secret-from-env")
	cfg, err := Load(writeConfig(t, "config.json", validJSON))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.OAuthToken != "oauth:fromenv" {
		t.Errorf("OAuthToken = %q, want env override", cfg.OAuthToken)
	}
	if cfg.ClientSecret != "secret-from-env" {
		t.Errorf("ClientSecret = %q, want env override", cfg.ClientSecret)
	}
}

func TestLoadCredentialsFromEnvOnly(t *testing.T) {
	clearCredentialEnv(t)
	t.Setenv("TWITCH_BOT_USERNAME", "lurkbot")
	t.Setenv("TWITCH_CLIENT_ID", "cid")
	t.Setenv("TWITCH_CLIENT_SECRET", "csecret")
	t.Setenv("TWITCH_OAUTH_TOKEN", "tok")
	cfg, err := Load(writeConfig(t, "config.json", `{"channels": ["alice"], "wait_time": 30, "verbose": false}`))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.BotUsername != "lurkbot" {
		t.Errorf("BotUsername = %q", cfg.BotUsername)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if IsConfigError(err) {
		t.Errorf("missing file should be a read error, got %v", err)
	}
}

func TestMask(t *testing.T) {
	if got := Mask("abc"); got != "***" {
		t.Errorf("Mask(short) = %q", got)
	}
	if got := Mask("oauth:abcdef123456"); got != "***123456" {
		t.Errorf("Mask(long) = %q", got)
	}
}
