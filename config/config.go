// Package config loads the bot configuration record and validates it before any
// connection attempt is made. Values are read from a config file (json, yaml or toml)
// through viper; the four credentials may be overridden from the environment using the
// TWITCH_* names. Validation reports every problem it finds, not just the first one.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is immutable after Load returns.
type Config struct {
	// Required
	BotUsername  string
	OAuthToken   string
	ClientID     string
	ClientSecret string
	Channels     []string
	WaitTime     time.Duration
	Verbose      bool

	// Gateway
	IRCAddress     string
	IRCTLS         bool
	ReconnectDelay time.Duration

	// Twitch API
	TokenURL             string
	HelixURL             string
	HTTPTimeout          time.Duration
	MaxConcurrentLookups int

	// Shutdown bounds (T1, T2)
	DisconnectTimeout time.Duration
	StopTimeout       time.Duration
}

// maxDurationSeconds is the largest second count a time.Duration can hold.
const maxDurationSeconds = math.MaxInt64 / int64(time.Second)

const (
	DefaultIRCAddress = "irc.chat.twitch.tv:6697"
	DefaultTokenURL   = "https://id.twitch.tv/oauth2/token"
	DefaultHelixURL   = "https://api.twitch.tv/helix"
)

type valueKind int

const (
	kindString valueKind = iota
	kindStringList
	kindInt
	kindBool
)

func (k valueKind) String() string {
	switch k {
	case kindString:
		return "string"
	case kindStringList:
		return "list of strings"
	case kindInt:
		return "integer"
	case kindBool:
		return "boolean"
	}
	return "unknown"
}

// requiredKeys lists the keys every configuration must carry, in reporting order.
var requiredKeys = []struct {
	key  string
	kind valueKind
}{
	{"bot_username", kindString},
	{"client_id", kindString},
	{"client_secret", kindString},
	{"oauth_token", kindString},
	{"channels", kindStringList},
	{"wait_time", kindInt},
	{"verbose", kindBool},
}

var envOverrides = map[string]string{
	"bot_username":  "TWITCH_BOT_USERNAME",
	"client_id":     "TWITCH_CLIENT_ID",
	"client_secret": "TWITCH_CLIENT_SECRET",
	"oauth_token":   "TWITCH_OAUTH_TOKEN",
}

// Load reads the config file at path, applies env overrides and defaults, and validates
// the result. Validation failures are returned as *ConfigError.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	for key, env := range envOverrides {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}
	v.SetDefault("irc_address", DefaultIRCAddress)
	v.SetDefault("irc_tls", true)
	v.SetDefault("token_url", DefaultTokenURL)
	v.SetDefault("helix_url", DefaultHelixURL)
	v.SetDefault("reconnect_delay_seconds", 2)
	v.SetDefault("disconnect_timeout_seconds", 5)
	v.SetDefault("stop_timeout_seconds", 5)
	v.SetDefault("max_concurrent_lookups", 0)
	v.SetDefault("http_timeout_seconds", 10)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return fromViper(v, path)
}

func fromViper(v *viper.Viper, path string) (*Config, error) {
	var problems []Problem
	for _, rk := range requiredKeys {
		if !v.IsSet(rk.key) {
			problems = append(problems, Problem{Key: rk.key, Kind: ProblemMissing, Want: rk.kind.String()})
			continue
		}
		if p, ok := checkValue(rk.key, rk.kind, v.Get(rk.key)); !ok {
			problems = append(problems, p)
		}
	}
	for _, key := range []string{"reconnect_delay_seconds", "disconnect_timeout_seconds", "stop_timeout_seconds", "http_timeout_seconds"} {
		if n := v.GetInt64(key); n <= 0 || n > maxDurationSeconds {
			problems = append(problems, Problem{Key: key, Kind: ProblemInvalid, Want: durationWant, Got: v.Get(key)})
		}
	}
	if v.GetInt("max_concurrent_lookups") < 0 {
		problems = append(problems, Problem{Key: "max_concurrent_lookups", Kind: ProblemInvalid, Want: "zero or positive integer", Got: v.Get("max_concurrent_lookups")})
	}
	if len(problems) > 0 {
		return nil, &ConfigError{Path: path, Problems: problems}
	}

	cfg := &Config{
		BotUsername:          v.GetString("bot_username"),
		OAuthToken:           v.GetString("oauth_token"),
		ClientID:             v.GetString("client_id"),
		ClientSecret:         v.GetString("client_secret"),
		Channels:             v.GetStringSlice("channels"),
		WaitTime:             time.Duration(v.GetInt("wait_time")) * time.Second,
		Verbose:              v.GetBool("verbose"),
		IRCAddress:           v.GetString("irc_address"),
		IRCTLS:               v.GetBool("irc_tls"),
		ReconnectDelay:       time.Duration(v.GetInt("reconnect_delay_seconds")) * time.Second,
		TokenURL:             strings.TrimRight(v.GetString("token_url"), "/"),
		HelixURL:             strings.TrimRight(v.GetString("helix_url"), "/"),
		HTTPTimeout:          time.Duration(v.GetInt("http_timeout_seconds")) * time.Second,
		MaxConcurrentLookups: v.GetInt("max_concurrent_lookups"),
		DisconnectTimeout:    time.Duration(v.GetInt("disconnect_timeout_seconds")) * time.Second,
		StopTimeout:          time.Duration(v.GetInt("stop_timeout_seconds")) * time.Second,
	}
	return cfg, nil
}

var durationWant = fmt.Sprintf("positive integer no greater than %d", maxDurationSeconds)

// checkValue reports whether raw is a usable value of the wanted kind.
// Falsy values are rejected except for booleans, where false is legitimate.
func checkValue(key string, kind valueKind, raw any) (Problem, bool) {
	mismatch := Problem{Key: key, Kind: ProblemType, Want: kind.String(), Got: raw}
	empty := Problem{Key: key, Kind: ProblemEmpty, Want: kind.String(), Got: raw}
	switch kind {
	case kindString:
		s, ok := raw.(string)
		if !ok {
			return mismatch, false
		}
		if strings.TrimSpace(s) == "" {
			return empty, false
		}
	case kindStringList:
		var items []any
		switch l := raw.(type) {
		case []any:
			items = l
		case []string:
			for _, s := range l {
				items = append(items, s)
			}
		default:
			return mismatch, false
		}
		if len(items) == 0 {
			return empty, false
		}
		for _, it := range items {
			s, ok := it.(string)
			if !ok {
				return mismatch, false
			}
			if strings.TrimSpace(s) == "" {
				return empty, false
			}
		}
	case kindInt:
		n, ok := asInt(raw)
		if !ok {
			return mismatch, false
		}
		if n == 0 {
			return empty, false
		}
		if n < 0 || n > maxDurationSeconds {
			return Problem{Key: key, Kind: ProblemInvalid, Want: durationWant, Got: raw}, false
		}
	case kindBool:
		if _, ok := raw.(bool); !ok {
			return mismatch, false
		}
	}
	return Problem{}, true
}

// asInt accepts the integer shapes the supported file formats decode to. JSON numbers
// arrive as float64 and are accepted only when integral.
func asInt(raw any) (int64, bool) {
	switch n := raw.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		// out of int64 range; clamp so the range check reports it
		if n >= math.MaxInt64 {
			return math.MaxInt64, true
		}
		if n <= math.MinInt64 {
			return math.MinInt64, true
		}
		return int64(n), true
	}
	return 0, false
}

// LogValue masks credentials so the record can be logged at startup.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("bot_username", c.BotUsername),
		slog.String("client_id", c.ClientID),
		slog.String("client_secret", Mask(c.ClientSecret)),
		slog.String("oauth_token", Mask(c.OAuthToken)),
		slog.Any("channels", c.Channels),
		slog.Duration("wait_time", c.WaitTime),
		slog.Bool("verbose", c.Verbose),
		slog.String("irc_address", c.IRCAddress),
	)
}

// Mask hides all but the last 6 characters of a secret.
func Mask(secret string) string {
	if len(secret) <= 6 {
		return "***"
	}
	return "***" + secret[len(secret)-6:]
}

// IsConfigError reports whether err carries validation problems.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
