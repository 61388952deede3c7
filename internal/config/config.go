// Package config loads the client configuration: an optional YAML file,
// overridden by environment variables, with a .env file picked up outside
// production for local development.
package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chatsync/internal/logger"
)

// Config is the full configuration surface of the client. Durations are
// stored as milliseconds for plain YAML/env values; use the accessor methods.
type Config struct {
	API struct {
		// BaseURL of the REST backend, e.g. http://localhost:8080/api/chat.
		BaseURL string `yaml:"base_url"`
		// MaxUploadMB caps attachment uploads client-side.
		MaxUploadMB int `yaml:"max_upload_mb"`
	} `yaml:"api"`

	WS struct {
		// URL of the broker WebSocket endpoint, e.g. ws://localhost:8082/ws.
		URL string `yaml:"url"`
		// ReconnectDelayMS between reconnection attempts after an unexpected
		// closure. Retries are unbounded until Disconnect.
		ReconnectDelayMS int `yaml:"reconnect_delay_ms"`
		// HeartbeatMS offered to the broker (both directions); 0 disables.
		HeartbeatMS int `yaml:"heartbeat_ms"`
	} `yaml:"ws"`

	Chat struct {
		// TypingTimeoutMS is the silence window after which STOP_TYPING is
		// sent.
		TypingTimeoutMS int `yaml:"typing_timeout_ms"`
	} `yaml:"chat"`

	Cache struct {
		// Path of the local history cache file; empty disables caching.
		Path string `yaml:"path"`
	} `yaml:"cache"`

	// MetricsAddr is the listen address of the debug/metrics server; empty
	// disables it.
	MetricsAddr string `yaml:"metrics_addr"`
}

func (c Config) ReconnectDelay() time.Duration {
	return time.Duration(c.WS.ReconnectDelayMS) * time.Millisecond
}

func (c Config) Heartbeat() time.Duration {
	return time.Duration(c.WS.HeartbeatMS) * time.Millisecond
}

func (c Config) TypingTimeout() time.Duration {
	return time.Duration(c.Chat.TypingTimeoutMS) * time.Millisecond
}

// Load builds the configuration from config.yaml (path from CONFIG_PATH,
// default "config.yaml" if present) and environment variables. Env wins.
func Load() Config {
	loadEnv()

	var cfg Config
	cfg.API.BaseURL = "http://localhost:8080/api/chat"
	cfg.API.MaxUploadMB = 25
	cfg.WS.URL = "ws://localhost:8082/ws"
	cfg.WS.ReconnectDelayMS = 5000
	cfg.WS.HeartbeatMS = 4000
	cfg.Chat.TypingTimeoutMS = 3000

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			logger.Errorf("config: parse %s: %v", path, err)
		}
	}

	if v := os.Getenv("API_BASE_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("WS_URL"); v != "" {
		cfg.WS.URL = v
	}
	overrideInt(&cfg.API.MaxUploadMB, "MAX_UPLOAD_SIZE_MB")
	overrideInt(&cfg.WS.ReconnectDelayMS, "RECONNECT_DELAY_MS")
	overrideInt(&cfg.WS.HeartbeatMS, "HEARTBEAT_MS")
	overrideInt(&cfg.Chat.TypingTimeoutMS, "TYPING_TIMEOUT_MS")
	if v := os.Getenv("CACHE_PATH"); v != "" {
		cfg.Cache.Path = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	return cfg
}

func overrideInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			*dst = n
		}
	}
}

// loadEnv reads .env only outside production (in containers/prod the config
// comes from real env). Walks up to five directories looking for the file.
func loadEnv() {
	if os.Getenv("APP_ENV") == "production" {
		return
	}
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for i := 0; i < 5; i++ {
		f, err := os.Open(dir + "/.env")
		if err == nil {
			loadEnvFrom(f)
			f.Close()
			return
		}
		parent := strings.TrimSuffix(dir, "/")
		idx := strings.LastIndex(parent, "/")
		if idx <= 0 {
			return
		}
		dir = parent[:idx]
		if dir == "" {
			dir = "/"
		}
	}
}

func loadEnvFrom(f *os.File) {
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		if key == "" {
			continue
		}
		if len(val) >= 2 && (val[0] == '"' && val[len(val)-1] == '"' || val[0] == '\'' && val[len(val)-1] == '\'') {
			val = val[1 : len(val)-1]
		}
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}
