package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Loader layers flags, environment variables, and an optional TOML file on
// top of Default(), and watches the file (if any) for the handful of
// tunables that are safe to change on a live process.
type Loader struct {
	v *viper.Viper

	mu  sync.RWMutex
	cur *Config

	onReload func(*Config)
}

// NewLoader builds a Loader seeded with Default() and env var overrides
// under the DEADDROP_ prefix (e.g. DEADDROP_RATELIMIT_BURST).
func NewLoader() *Loader {
	v := viper.New()
	v.SetEnvPrefix("DEADDROP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	l := &Loader{v: v, cur: Default()}
	bindDefaults(v, Default())
	return l
}

func bindDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("server.bind", c.Server.Bind)
	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("ratelimit.requestspersecond", c.RateLimit.RequestsPerSecond)
	v.SetDefault("ratelimit.burst", c.RateLimit.Burst)
	v.SetDefault("ratelimit.redisurl", c.RateLimit.RedisURL)
	v.SetDefault("store.diskthresholdbytes", c.Store.DiskThresholdBytes)
	v.SetDefault("store.defaultttl", c.Store.DefaultTTL.String())
	v.SetDefault("store.defaultmaxdownloads", c.Store.DefaultMaxDownloads)
	v.SetDefault("audit.enabled", c.Audit.Enabled)
	v.SetDefault("audit.maxevents", c.Audit.MaxEvents)
	v.SetDefault("audit.sink.type", c.Audit.Sink.Type)
	v.SetDefault("loglevel", c.LogLevel)
}

// LoadFile merges an optional TOML config file and starts watching it for
// changes via fsnotify (wired through viper's WatchConfig). Passing an
// empty path skips the file entirely; flags and env vars still apply.
func (l *Loader) LoadFile(path string) (*Config, error) {
	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		l.v.OnConfigChange(func(e fsnotify.Event) {
			logrus.WithField("file", e.Name).Info("config file changed, reloading hot-reloadable settings")
			l.reload()
		})
		l.v.WatchConfig()
	}
	return l.build()
}

// OnReload registers a callback invoked after every successful hot reload.
func (l *Loader) OnReload(fn func(*Config)) {
	l.onReload = fn
}

func (l *Loader) build() (*Config, error) {
	ttl, err := time.ParseDuration(l.v.GetString("store.defaultttl"))
	if err != nil {
		return nil, fmt.Errorf("invalid store.defaultttl: %w", err)
	}

	c := &Config{
		Server: ServerConfig{
			Bind: l.v.GetString("server.bind"),
			Port: l.v.GetInt("server.port"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: l.v.GetFloat64("ratelimit.requestspersecond"),
			Burst:             l.v.GetInt("ratelimit.burst"),
			RedisURL:          l.v.GetString("ratelimit.redisurl"),
		},
		Store: StoreConfig{
			DiskThresholdBytes:  l.v.GetInt64("store.diskthresholdbytes"),
			DefaultTTL:          ttl,
			DefaultMaxDownloads: int32(l.v.GetInt("store.defaultmaxdownloads")),
		},
		Audit: AuditConfig{
			Enabled:   l.v.GetBool("audit.enabled"),
			MaxEvents: l.v.GetInt("audit.maxevents"),
			Sink:      SinkConfig{Type: l.v.GetString("audit.sink.type")},
		},
		LogLevel: l.v.GetString("loglevel"),
	}

	l.mu.Lock()
	l.cur = c
	l.mu.Unlock()
	return c, nil
}

// Current returns the most recently loaded configuration.
func (l *Loader) Current() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cur
}

func (l *Loader) reload() {
	c, err := l.build()
	if err != nil {
		logrus.WithError(err).Error("config hot reload failed, keeping previous configuration")
		return
	}
	if l.onReload != nil {
		l.onReload(c)
	}
}
