package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"go2tv.app/tvlink/internal/domain"
)

// EnvPrefix namespaces environment overrides: TVLINK_SERVER_PORT sets
// server.port.
const EnvPrefix = "TVLINK_"

type Config struct {
	Device    DeviceConfig    `yaml:"device" json:"device"`
	Server    ServerConfig    `yaml:"server" json:"server"`
	Advertise AdvertiseConfig `yaml:"advertise" json:"advertise"`
	Pairing   PairingConfig   `yaml:"pairing" json:"pairing"`
	Cookie    CookieConfig    `yaml:"cookie" json:"cookie"`
	Status    StatusConfig    `yaml:"status" json:"status"`
	Renderer  RendererConfig  `yaml:"renderer" json:"renderer"`
	Log       LogConfig       `yaml:"log" json:"log"`
}

type DeviceConfig struct {
	Name     string `yaml:"name" json:"name"`
	Platform string `yaml:"platform" json:"platform"`
}

type ServerConfig struct {
	Host           string        `yaml:"host" json:"host"`
	Port           int           `yaml:"port" json:"port"`
	MaxConnections int           `yaml:"max_connections" json:"max_connections"`
	WriteTimeout   time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

type AdvertiseConfig struct {
	Enabled      bool     `yaml:"enabled" json:"enabled"`
	Backend      string   `yaml:"backend" json:"backend"`
	Service      string   `yaml:"service" json:"service"`
	Domain       string   `yaml:"domain" json:"domain"`
	Capabilities []string `yaml:"capabilities" json:"capabilities"`
}

type PairingConfig struct {
	Code        string `yaml:"code" json:"-"`
	Acknowledge bool   `yaml:"acknowledge" json:"acknowledge"`
}

type CookieConfig struct {
	URL    string `yaml:"url" json:"url"`
	Name   string `yaml:"name" json:"name"`
	Domain string `yaml:"domain" json:"domain"`
	Path   string `yaml:"path" json:"path"`
}

type StatusConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

type RendererConfig struct {
	Target           string        `yaml:"target" json:"target"`
	PollInterval     time.Duration `yaml:"poll_interval" json:"poll_interval"`
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout" json:"discovery_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

func Default() Config {
	return Config{
		Device: DeviceConfig{Platform: string(domain.PlatformAndroidTV)},
		Server: ServerConfig{
			Port:           9999,
			MaxConnections: 32,
			WriteTimeout:   5 * time.Second,
		},
		Advertise: AdvertiseConfig{
			Enabled:      true,
			Backend:      "zeroconf",
			Service:      "_pairing._tcp",
			Domain:       "local.",
			Capabilities: []string{"video", "audio", "remote"},
		},
		Pairing: PairingConfig{Acknowledge: true},
		Cookie: CookieConfig{
			URL:    "https://www.floatplane.com",
			Name:   "sails.sid",
			Domain: ".floatplane.com",
			Path:   "/",
		},
		Status: StatusConfig{Addr: "127.0.0.1:9100"},
		Renderer: RendererConfig{
			PollInterval:     time.Second,
			DiscoveryTimeout: 2500 * time.Millisecond,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

var environ = os.Environ

// Load layers defaults, the optional YAML file at path, the optional dotenv
// file at envFile and TVLINK_* process environment, in that order. A missing
// dotenv file is ignored; a missing YAML file is an error.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		raw := map[string]any{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		if err := decode(normalize(raw).(map[string]any), &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config %s: %w", path, err)
		}
	}

	env := map[string]string{}
	if envFile != "" {
		fileEnv, err := godotenv.Read(envFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read env file %s: %w", envFile, err)
		}
		for k, v := range fileEnv {
			env[k] = v
		}
	}
	for _, kv := range environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	if overrides := envOverrides(env); len(overrides) > 0 {
		if err := decode(overrides, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode environment: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if _, err := domain.ParsePlatform(c.Device.Platform); err != nil {
		return fmt.Errorf("device.platform: %w", err)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: %d out of range", c.Server.Port)
	}
	if c.Server.MaxConnections < 0 {
		return errors.New("server.max_connections: must not be negative")
	}
	if c.Server.WriteTimeout < 0 {
		return errors.New("server.write_timeout: must not be negative")
	}
	switch strings.ToLower(c.Advertise.Backend) {
	case "zeroconf", "mdns":
	default:
		return fmt.Errorf("advertise.backend: unknown backend %q", c.Advertise.Backend)
	}
	if c.Renderer.Target != "" && c.Renderer.PollInterval <= 0 {
		return errors.New("renderer.poll_interval: must be positive")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	return nil
}

func decode(input map[string]any, cfg *Config) error {
	// Lists replace the defaults instead of merging element-wise.
	if adv, ok := input["advertise"].(map[string]any); ok {
		if _, ok := adv["capabilities"]; ok {
			cfg.Advertise.Capabilities = nil
		}
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "yaml",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           cfg,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

// envOverrides turns TVLINK_SECTION_KEY=value pairs into a nested map keyed
// like the YAML file.
func envOverrides(env map[string]string) map[string]any {
	out := map[string]any{}
	for k, v := range env {
		if !strings.HasPrefix(k, EnvPrefix) {
			continue
		}
		section, key, ok := strings.Cut(strings.ToLower(strings.TrimPrefix(k, EnvPrefix)), "_")
		if !ok || section == "" || key == "" {
			continue
		}
		sub, _ := out[section].(map[string]any)
		if sub == nil {
			sub = map[string]any{}
			out[section] = sub
		}
		sub[key] = v
	}
	return out
}

// normalize converts the map[interface{}]interface{} values produced by
// yaml.v2 into map[string]any.
func normalize(v any) any {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case map[string]any:
		for k, val := range t {
			t[k] = normalize(val)
		}
		return t
	case []interface{}:
		for i, val := range t {
			t[i] = normalize(val)
		}
		return t
	default:
		return v
	}
}
