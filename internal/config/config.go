package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Env      string `yaml:"env"`
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	DBPath    string   `yaml:"db_path"`
	JWTSecret string   `yaml:"jwt_secret"`
	CORSAllow []string `yaml:"cors_allow"`

	HTTPRequestsPerMinute int `yaml:"http_requests_per_minute"`

	Redis RedisConfig `yaml:"redis"`
	WS    WSConfig    `yaml:"ws"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type WSConfig struct {
	MaxRoomMembers    int     `yaml:"max_room_members"`
	RequireKnownNote  bool    `yaml:"require_known_note"`
	MessagesPerSecond float64 `yaml:"messages_per_second"`
	MessageBurst      int     `yaml:"message_burst"`
	MaxMessageSize    int64   `yaml:"max_message_size"`
}

func Default() Config {
	return Config{
		Env:                   "dev",
		Port:                  "8080",
		LogLevel:              "info",
		DBPath:                "./data/notecollab.db",
		JWTSecret:             "dev-secret-change",
		CORSAllow:             []string{"http://localhost:5173"},
		HTTPRequestsPerMinute: 120,
		WS: WSConfig{
			MessagesPerSecond: 100,
			MessageBurst:      200,
			MaxMessageSize:    1024 * 1024,
		},
	}
}

// Load builds the config from defaults, the optional YAML file named by
// NOTECOLLAB_CONFIG, then environment variables (a local .env is read first)
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("NOTECOLLAB_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var err error
	num := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || v == "" || err != nil {
			return
		}
		n, perr := strconv.Atoi(v)
		if perr != nil {
			err = fmt.Errorf("config: %s: %w", key, perr)
			return
		}
		*dst = n
	}

	str("APP_ENV", &c.Env)
	str("PORT", &c.Port)
	str("LOG_LEVEL", &c.LogLevel)
	str("NOTECOLLAB_DB_PATH", &c.DBPath)
	str("JWT_SECRET", &c.JWTSecret)
	if v, ok := lookup("CORS_ALLOW"); ok && v != "" {
		c.CORSAllow = splitCSV(v)
	}
	num("HTTP_REQUESTS_PER_MINUTE", &c.HTTPRequestsPerMinute)

	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	num("REDIS_DB", &c.Redis.DB)

	num("WS_MAX_ROOM_MEMBERS", &c.WS.MaxRoomMembers)
	num("WS_MESSAGE_BURST", &c.WS.MessageBurst)
	if v, ok := lookup("WS_REQUIRE_KNOWN_NOTE"); ok && v != "" && err == nil {
		b, perr := strconv.ParseBool(v)
		if perr != nil {
			err = fmt.Errorf("config: WS_REQUIRE_KNOWN_NOTE: %w", perr)
		}
		c.WS.RequireKnownNote = b
	}
	if v, ok := lookup("WS_MESSAGES_PER_SECOND"); ok && v != "" && err == nil {
		f, perr := strconv.ParseFloat(v, 64)
		if perr != nil {
			err = fmt.Errorf("config: WS_MESSAGES_PER_SECOND: %w", perr)
		}
		c.WS.MessagesPerSecond = f
	}
	if v, ok := lookup("WS_MAX_MESSAGE_SIZE"); ok && v != "" && err == nil {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			err = fmt.Errorf("config: WS_MAX_MESSAGE_SIZE: %w", perr)
		}
		c.WS.MaxMessageSize = n
	}
	return err
}

func (c Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("config: port is required")
	}
	if c.Env == "prod" && c.JWTSecret == Default().JWTSecret {
		return fmt.Errorf("config: JWT_SECRET must be set in prod")
	}
	if c.WS.MaxRoomMembers < 0 {
		return fmt.Errorf("config: ws max_room_members must be >= 0")
	}
	if c.WS.MessagesPerSecond <= 0 || c.WS.MessageBurst <= 0 {
		return fmt.Errorf("config: ws rate limit must be positive")
	}
	return nil
}

// splitCSV trims and filters a comma-separated list
func splitCSV(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
