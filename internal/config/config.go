package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk service configuration.
type Config struct {
	DataDir   string `json:"data_dir" yaml:"data_dir"`
	LogLevel  string `json:"log_level" yaml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format"`
	HTTP      struct {
		Port int `json:"port" yaml:"port"`
	} `json:"http" yaml:"http"`
	Lark struct {
		AppID     string `json:"app_id" yaml:"app_id"`
		AppSecret string `json:"app_secret" yaml:"app_secret"`
		BaseURL   string `json:"base_url" yaml:"base_url"`
	} `json:"lark" yaml:"lark"`
	Backend struct {
		URL               string `json:"url" yaml:"url"`
		APIKey            string `json:"api_key" yaml:"api_key"`
		TimeoutSeconds    int    `json:"timeout_seconds" yaml:"timeout_seconds"`
		MaxQuestionTokens int    `json:"max_question_tokens" yaml:"max_question_tokens"`
		Encoding          string `json:"encoding" yaml:"encoding"`
	} `json:"backend" yaml:"backend"`
	Image struct {
		Mode           string `json:"mode" yaml:"mode"`
		RetrievalURL   string `json:"retrieval_url" yaml:"retrieval_url"`
		SourceURL      string `json:"source_url" yaml:"source_url"`
		UploadURL      string `json:"upload_url" yaml:"upload_url"`
		UploadToken    string `json:"upload_token" yaml:"upload_token"`
		TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
	} `json:"image" yaml:"image"`
	Dedup struct {
		Backend    string `json:"backend" yaml:"backend"`
		TTLMinutes int    `json:"ttl_minutes" yaml:"ttl_minutes"`
		Path       string `json:"path" yaml:"path"`
	} `json:"dedup" yaml:"dedup"`
	Dispatch struct {
		Async         bool `json:"async" yaml:"async"`
		MaxConcurrent int  `json:"max_concurrent" yaml:"max_concurrent"`
	} `json:"dispatch" yaml:"dispatch"`
}

// Defaults returns a Config with every default applied.
func Defaults() *Config {
	cfg := &Config{
		DataDir:   filepath.Join(os.Getenv("HOME"), ".larkflow"),
		LogLevel:  "info",
		LogFormat: "text",
	}
	cfg.HTTP.Port = 3000
	cfg.Backend.TimeoutSeconds = 60
	cfg.Backend.Encoding = "cl100k_base"
	cfg.Image.Mode = "none"
	cfg.Image.TimeoutSeconds = 30
	cfg.Dedup.Backend = "memory"
	cfg.Dedup.TTLMinutes = 24 * 60
	cfg.Dispatch.MaxConcurrent = 4
	return cfg
}

// Load reads the config file at path (JSON, or YAML for .yaml/.yml),
// writing defaults when it does not exist, then applies a .env file from the
// working directory and the process environment on top.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, err
			}
			if err := unmarshal(path, data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if os.IsNotExist(err) {
			if err := Save(path, cfg); err != nil {
				return nil, err
			}
		}
	}

	// Variables already in the environment take precedence over .env.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	applyEnv(cfg)

	return cfg, nil
}

// applyEnv overrides cfg from the environment (highest precedence).
func applyEnv(cfg *Config) {
	if port := os.Getenv("PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			cfg.HTTP.Port = n
		}
	}
	setFromEnv(&cfg.DataDir, "LARKFLOW_DATA_DIR")
	setFromEnv(&cfg.LogLevel, "LOG_LEVEL")
	setFromEnv(&cfg.Lark.AppID, "LARK_APP_ID")
	setFromEnv(&cfg.Lark.AppSecret, "LARK_APP_SECRET")
	setFromEnv(&cfg.Lark.BaseURL, "LARK_BASE_URL")
	setFromEnv(&cfg.Backend.URL, "FLOWISE_API_URL")
	setFromEnv(&cfg.Backend.APIKey, "FLOWISE_API_KEY")
	setFromEnv(&cfg.Image.Mode, "IMAGE_MODE")
	setFromEnv(&cfg.Image.RetrievalURL, "IMAGE_RETRIEVAL_URL")
	setFromEnv(&cfg.Image.SourceURL, "IMAGE_SOURCE_URL")
	setFromEnv(&cfg.Image.UploadURL, "IMAGE_UPLOAD_URL")
	setFromEnv(&cfg.Image.UploadToken, "IMAGE_UPLOAD_TOKEN")
}

func setFromEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.Image.Mode {
	case "", "none":
	case "retrieval":
		if c.Image.RetrievalURL == "" {
			return fmt.Errorf("image.mode retrieval requires image.retrieval_url")
		}
	case "reupload":
		if c.Image.UploadURL == "" || c.Image.UploadToken == "" {
			return fmt.Errorf("image.mode reupload requires image.upload_url and image.upload_token")
		}
	default:
		return fmt.Errorf("unknown image.mode %q", c.Image.Mode)
	}
	switch c.Dedup.Backend {
	case "", "memory", "sqlite":
	default:
		return fmt.Errorf("unknown dedup.backend %q", c.Dedup.Backend)
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http.port %d", c.HTTP.Port)
	}
	return nil
}

// DedupPath returns the SQLite path, defaulting into the data dir.
func (c *Config) DedupPath() string {
	if c.Dedup.Path != "" {
		return c.Dedup.Path
	}
	return filepath.Join(c.DataDir, "dedup.db")
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func unmarshal(path string, data []byte, v any) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, v)
	}
	return json.Unmarshal(data, v)
}

func marshal(path string, v any) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(v)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Save writes cfg to path atomically.
func Save(path string, cfg *Config) error {
	data, err := marshal(path, cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, data)
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg into a generic nested map keyed by JSON field names.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListValues returns cfg as dot-keyed values, optionally with secrets masked.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// readRaw loads the file at path as a generic nested map.
func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	m := map[string]any{}
	if err := unmarshal(path, data, &m); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return m, nil
}

// GetValue returns the value stored under the dot-separated key in the file.
func GetValue(path, key string) (any, error) {
	m, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	v, ok := Flatten(m)[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key %q", key)
	}
	return v, nil
}

// SetValue stores value under the dot-separated key. Booleans and numbers
// are stored typed; everything else as a string.
func SetValue(path, key, value string) error {
	m, err := readRaw(path)
	if err != nil {
		return err
	}
	flat := Flatten(m)
	flat[key] = parseValue(value)

	data, err := marshal(path, Unflatten(flat))
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, data)
}

func parseValue(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return float64(n)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
