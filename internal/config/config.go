// Package config loads the yaml configuration shared by the cart server and
// the cartctl client.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zeusync/cartsync/internal/catalog"
	"github.com/zeusync/cartsync/internal/core/connectivity"
	"github.com/zeusync/cartsync/internal/core/observability/log"
	"github.com/zeusync/cartsync/internal/core/reconciler"
	"github.com/zeusync/cartsync/internal/core/remote/fsremote"
	"github.com/zeusync/cartsync/internal/core/remote/wsremote"
	"github.com/zeusync/cartsync/internal/server"
)

const EnvPrefix = "CARTSYNC_"

const (
	LocalFile  = "file"
	LocalRedis = "redis"

	RemoteWebsocket = "websocket"
	RemoteFirestore = "firestore"

	BackendMemory = "memory"
	BackendRedis  = "redis"

	AuthStatic   = "static"
	AuthFirebase = "firebase"
)

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	Log       LogConfig                    `yaml:"log"`
	Local     LocalConfig                  `yaml:"local"`
	Remote    RemoteConfig                 `yaml:"remote"`
	Reconnect connectivity.ReconnectPolicy `yaml:"reconnect"`
	Cart      CartConfig                   `yaml:"cart"`
	Server    ServerConfig                 `yaml:"server"`
	Catalog   catalog.Config               `yaml:"catalog"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type LocalConfig struct {
	Backend   string        `yaml:"backend"`
	Dir       string        `yaml:"dir"`
	RedisAddr string        `yaml:"redis_addr"`
	RedisTTL  time.Duration `yaml:"redis_ttl"`
}

type RemoteConfig struct {
	Backend     string          `yaml:"backend"`
	Websocket   wsremote.Config `yaml:"websocket"`
	Firestore   fsremote.Config `yaml:"firestore"`
	PushTimeout time.Duration   `yaml:"push_timeout"`
}

type CartConfig struct {
	AddPolicy string `yaml:"add_policy"`
}

type ServerConfig struct {
	server.Config `yaml:",inline"`

	Backend   string `yaml:"backend"`
	RedisAddr string `yaml:"redis_addr"`
	Shards    int    `yaml:"shards"`

	Auth AuthConfig `yaml:"auth"`
}

type AuthConfig struct {
	Mode string `yaml:"mode"`
	// Tokens maps bearer token to user uid for the static verifier.
	Tokens          map[string]string `yaml:"tokens"`
	ProjectID       string            `yaml:"project_id"`
	CredentialsFile string            `yaml:"credentials_file"`
}

func Default() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		Local: LocalConfig{
			Backend:   LocalFile,
			Dir:       defaultDir(),
			RedisAddr: "localhost:6379",
		},
		Remote: RemoteConfig{
			Backend:     RemoteWebsocket,
			Websocket:   wsremote.DefaultConfig(),
			Firestore:   fsremote.DefaultConfig(),
			PushTimeout: 15 * time.Second,
		},
		Reconnect: connectivity.DefaultReconnectPolicy(),
		Cart:      CartConfig{AddPolicy: string(reconciler.AddOverwrite)},
		Server: ServerConfig{
			Config:    server.DefaultServerConfig(),
			Backend:   BackendMemory,
			RedisAddr: "localhost:6379",
			Shards:    32,
			Auth:      AuthConfig{Mode: AuthStatic},
		},
		Catalog: catalog.DefaultConfig(),
	}
}

func defaultDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir + string(os.PathSeparator) + "cartsync"
	}
	return ".cartsync"
}

// Load reads path over the defaults, applies CARTSYNC_* overrides and
// validates. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		defer f.Close()
		if err := decode(f, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes r over the defaults without touching the environment.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	if err := decode(r, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode: %w", err)
	}
	return nil
}

// ApplyEnv overrides scalar settings from lookup, which is os.LookupEnv
// outside tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	var errs []error
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}

	str("LOG_LEVEL", &c.Log.Level)
	str("LOCAL_BACKEND", &c.Local.Backend)
	str("LOCAL_DIR", &c.Local.Dir)
	str("LOCAL_REDIS_ADDR", &c.Local.RedisAddr)
	str("REMOTE_BACKEND", &c.Remote.Backend)
	str("REMOTE_BASE_URL", &c.Remote.Websocket.BaseURL)
	str("REMOTE_TOKEN", &c.Remote.Websocket.Token)
	str("FIRESTORE_PROJECT", &c.Remote.Firestore.ProjectID)
	str("FIRESTORE_CREDENTIALS", &c.Remote.Firestore.CredentialsFile)
	str("FIRESTORE_COLLECTION", &c.Remote.Firestore.Collection)
	dur("REMOTE_READ_TIMEOUT", &c.Remote.Websocket.ReadTimeout)
	dur("PUSH_TIMEOUT", &c.Remote.PushTimeout)
	boolean("RECONNECT", &c.Reconnect.Enabled)
	str("ADD_POLICY", &c.Cart.AddPolicy)
	str("SERVER_ADDR", &c.Server.ListenAddr)
	str("SERVER_BACKEND", &c.Server.Backend)
	str("SERVER_REDIS_ADDR", &c.Server.RedisAddr)
	str("AUTH_MODE", &c.Server.Auth.Mode)
	str("AUTH_PROJECT", &c.Server.Auth.ProjectID)
	str("AUTH_CREDENTIALS", &c.Server.Auth.CredentialsFile)
	str("CATALOG_URL", &c.Catalog.BaseURL)

	// CARTSYNC_AUTH_TOKENS=token1=uid1,token2=uid2
	if v, ok := lookup(EnvPrefix + "AUTH_TOKENS"); ok {
		tokens, err := parseTokens(v)
		if err != nil {
			errs = append(errs, err)
		} else {
			c.Server.Auth.Tokens = tokens
		}
	}
	return errors.Join(errs...)
}

func parseTokens(v string) (map[string]string, error) {
	tokens := make(map[string]string)
	for _, pair := range strings.Split(v, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, uid, ok := strings.Cut(pair, "=")
		if !ok || token == "" || uid == "" {
			return nil, fmt.Errorf("%sAUTH_TOKENS: malformed pair %q", EnvPrefix, pair)
		}
		tokens[token] = uid
	}
	return tokens, nil
}

func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		bad("log.level %q", c.Log.Level)
	}
	switch c.Local.Backend {
	case LocalFile:
		if c.Local.Dir == "" {
			bad("local.dir is empty")
		}
	case LocalRedis:
		if c.Local.RedisAddr == "" {
			bad("local.redis_addr is empty")
		}
	default:
		bad("local.backend %q", c.Local.Backend)
	}
	switch c.Remote.Backend {
	case RemoteWebsocket:
		if c.Remote.Websocket.BaseURL == "" {
			bad("remote.websocket.base_url is empty")
		}
	case RemoteFirestore:
		if c.Remote.Firestore.ProjectID == "" {
			bad("remote.firestore.project_id is empty")
		}
	default:
		bad("remote.backend %q", c.Remote.Backend)
	}
	if c.Remote.PushTimeout < 0 {
		bad("remote.push_timeout is negative")
	}
	if c.Reconnect.Enabled && (c.Reconnect.InitialDelay <= 0 || c.Reconnect.Multiplier < 1) {
		bad("reconnect needs a positive initial_delay and multiplier >= 1")
	}
	if _, err := reconciler.ParseAddPolicy(c.Cart.AddPolicy); err != nil {
		bad("cart.add_policy %q", c.Cart.AddPolicy)
	}
	switch c.Server.Backend {
	case BackendMemory, BackendRedis:
	default:
		bad("server.backend %q", c.Server.Backend)
	}
	switch c.Server.Auth.Mode {
	case AuthStatic:
	case AuthFirebase:
		if c.Server.Auth.ProjectID == "" && c.Server.Auth.CredentialsFile == "" {
			bad("server.auth needs project_id or credentials_file for firebase")
		}
	default:
		bad("server.auth.mode %q", c.Server.Auth.Mode)
	}
	return errors.Join(errs...)
}

// Reconciler builds the reconciler settings. Validate has already checked
// the add policy.
func (c Config) Reconciler() reconciler.Config {
	policy, _ := reconciler.ParseAddPolicy(c.Cart.AddPolicy)
	return reconciler.Config{
		AddPolicy:   policy,
		Reconnect:   c.Reconnect,
		PushTimeout: c.Remote.PushTimeout,
	}
}

func (c Config) Level() log.Level {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return log.LevelInfo
	}
	return level
}
