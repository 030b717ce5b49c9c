package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Database DatabaseConfig `json:"database"`
	Delivery DeliveryConfig `json:"delivery"`
	Links    LinksConfig    `json:"links"`
	Pages    PagesConfig    `json:"pages"`
	Reminder ReminderConfig `json:"reminder"`
	Cron     CronConfig     `json:"cron"`
	Gateway  GatewayConfig  `json:"gateway"`
	Logging  LoggingConfig  `json:"logging"`
	mu       sync.RWMutex
}

type WhatsAppConfig struct {
	// Transport is "whatsmeow" (native multi-device client) or "bridge" (websocket bridge).
	Transport         string `json:"transport" env:"SHOPBOT_WHATSAPP_TRANSPORT"`
	DeviceStore       string `json:"device_store" env:"SHOPBOT_WHATSAPP_DEVICE_STORE"`
	BridgeURL         string `json:"bridge_url" env:"SHOPBOT_WHATSAPP_BRIDGE_URL"`
	ReconnectDelaySec int    `json:"reconnect_delay_sec" env:"SHOPBOT_WHATSAPP_RECONNECT_DELAY_SEC"`
	ConnectTimeoutSec int    `json:"connect_timeout_sec" env:"SHOPBOT_WHATSAPP_CONNECT_TIMEOUT_SEC"`
	PrintQR           bool   `json:"print_qr" env:"SHOPBOT_WHATSAPP_PRINT_QR"`
}

type DatabaseConfig struct {
	Path string `json:"path" env:"SHOPBOT_DATABASE_PATH"`
}

type DeliveryConfig struct {
	MinDelayMS     int     `json:"min_delay_ms" env:"SHOPBOT_DELIVERY_MIN_DELAY_MS"`
	MaxDelayMS     int     `json:"max_delay_ms" env:"SHOPBOT_DELIVERY_MAX_DELAY_MS"`
	ImageBaseURL   string  `json:"image_base_url" env:"SHOPBOT_DELIVERY_IMAGE_BASE_URL"`
	ImageFilename  string  `json:"image_filename" env:"SHOPBOT_DELIVERY_IMAGE_FILENAME"`
	ClosingPrompt  string  `json:"closing_prompt" env:"SHOPBOT_DELIVERY_CLOSING_PROMPT"`
	SendsPerSecond float64 `json:"sends_per_second" env:"SHOPBOT_DELIVERY_SENDS_PER_SECOND"`
	SendBurst      int     `json:"send_burst" env:"SHOPBOT_DELIVERY_SEND_BURST"`
}

type LinksConfig struct {
	Markers      []string `json:"markers" env:"SHOPBOT_LINKS_MARKERS"`
	MaxRedirects int      `json:"max_redirects" env:"SHOPBOT_LINKS_MAX_REDIRECTS"`
	TimeoutSec   int      `json:"timeout_sec" env:"SHOPBOT_LINKS_TIMEOUT_SEC"`
	UserAgent    string   `json:"user_agent" env:"SHOPBOT_LINKS_USER_AGENT"`
}

type PagesConfig struct {
	GraphAPIBase  string   `json:"graph_api_base" env:"SHOPBOT_PAGES_GRAPH_API_BASE"`
	AccessToken   string   `json:"access_token" env:"SHOPBOT_PAGES_ACCESS_TOKEN"`
	PageIDs       []string `json:"page_ids" env:"SHOPBOT_PAGES_PAGE_IDS"`
	NotFoundReply string   `json:"not_found_reply" env:"SHOPBOT_PAGES_NOT_FOUND_REPLY"`
	TimeoutSec    int      `json:"timeout_sec" env:"SHOPBOT_PAGES_TIMEOUT_SEC"`
}

type ReminderConfig struct {
	Enabled   bool          `json:"enabled" env:"SHOPBOT_REMINDER_ENABLED"`
	Delay     time.Duration `json:"delay" env:"SHOPBOT_REMINDER_DELAY"`
	Message   string        `json:"message" env:"SHOPBOT_REMINDER_MESSAGE"`
	StorePath string        `json:"store_path" env:"SHOPBOT_REMINDER_STORE_PATH"`
}

type CronConfig struct {
	MinSleepSec                  int `json:"min_sleep_sec" env:"SHOPBOT_CRON_MIN_SLEEP_SEC"`
	MaxSleepSec                  int `json:"max_sleep_sec" env:"SHOPBOT_CRON_MAX_SLEEP_SEC"`
	RetryBackoffBaseSec          int `json:"retry_backoff_base_sec" env:"SHOPBOT_CRON_RETRY_BACKOFF_BASE_SEC"`
	RetryBackoffMaxSec           int `json:"retry_backoff_max_sec" env:"SHOPBOT_CRON_RETRY_BACKOFF_MAX_SEC"`
	MaxConsecutiveFailureRetries int `json:"max_consecutive_failure_retries" env:"SHOPBOT_CRON_MAX_CONSECUTIVE_FAILURE_RETRIES"`
	MaxWorkers                   int `json:"max_workers" env:"SHOPBOT_CRON_MAX_WORKERS"`
}

type GatewayConfig struct {
	Host string `json:"host" env:"SHOPBOT_GATEWAY_HOST"`
	Port int    `json:"port" env:"SHOPBOT_GATEWAY_PORT"`
}

type LoggingConfig struct {
	Enabled       bool   `json:"enabled" env:"SHOPBOT_LOGGING_ENABLED"`
	Level         string `json:"level" env:"SHOPBOT_LOGGING_LEVEL"`
	Dir           string `json:"dir" env:"SHOPBOT_LOGGING_DIR"`
	Filename      string `json:"filename" env:"SHOPBOT_LOGGING_FILENAME"`
	MaxSizeMB     int    `json:"max_size_mb" env:"SHOPBOT_LOGGING_MAX_SIZE_MB"`
	RetentionDays int    `json:"retention_days" env:"SHOPBOT_LOGGING_RETENTION_DAYS"`
}

var (
	isDebug bool
	muDebug sync.RWMutex
)

func SetDebugMode(debug bool) {
	muDebug.Lock()
	defer muDebug.Unlock()
	isDebug = debug
}

func IsDebugMode() bool {
	muDebug.RLock()
	defer muDebug.RUnlock()
	return isDebug
}

func GetConfigDir() string {
	if IsDebugMode() {
		return ".shopbot"
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".shopbot")
}

func DefaultConfig() *Config {
	configDir := GetConfigDir()
	return &Config{
		WhatsApp: WhatsAppConfig{
			Transport:         "whatsmeow",
			DeviceStore:       filepath.Join(configDir, "whatsapp.db"),
			BridgeURL:         "ws://localhost:3001",
			ReconnectDelaySec: 5,
			ConnectTimeoutSec: 120,
			PrintQR:           true,
		},
		Database: DatabaseConfig{
			Path: filepath.Join(configDir, "shopbot.db"),
		},
		Delivery: DeliveryConfig{
			MinDelayMS:     1500,
			MaxDelayMS:     4000,
			ImageBaseURL:   "http://localhost:18800",
			ImageFilename:  "image.jpg",
			ClosingPrompt:  "Souhaitez-vous passer commande ?",
			SendsPerSecond: 1,
			SendBurst:      3,
		},
		Links: LinksConfig{
			Markers:      []string{"fb.me", "fb.watch", "facebook.com/share"},
			MaxRedirects: 10,
			TimeoutSec:   8,
			UserAgent:    "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
		},
		Pages: PagesConfig{
			GraphAPIBase:  "https://graph.facebook.com/v19.0",
			PageIDs:       []string{},
			NotFoundReply: "Le produit associé à ce lien est introuvable sur nos pages.",
			TimeoutSec:    10,
		},
		Reminder: ReminderConfig{
			Enabled:   true,
			Delay:     24 * time.Hour,
			Message:   "Bonjour ! Avez-vous trouvé ce que vous cherchiez ? Nous restons disponibles pour toute question.",
			StorePath: filepath.Join(configDir, "cron", "jobs.json"),
		},
		Cron: CronConfig{
			MinSleepSec:                  1,
			MaxSleepSec:                  30,
			RetryBackoffBaseSec:          30,
			RetryBackoffMaxSec:           1800,
			MaxConsecutiveFailureRetries: 5,
			MaxWorkers:                   4,
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 18800,
		},
		Logging: LoggingConfig{
			Enabled:       true,
			Level:         "info",
			Dir:           filepath.Join(configDir, "logs"),
			Filename:      "shopbot.log",
			MaxSizeMB:     20,
			RetentionDays: 3,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := unmarshalConfigStrict(data, cfg); err != nil {
			return nil, err
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func unmarshalConfigStrict(data []byte, cfg *Config) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); err != io.EOF {
		if err == nil {
			return fmt.Errorf("invalid config: trailing JSON content")
		}
		return err
	}
	return nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) DatabasePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Database.Path)
}

func (c *Config) DeviceStorePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.WhatsApp.DeviceStore)
}

func (c *Config) ReminderStorePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Reminder.StorePath)
}

func (c *Config) ReconnectDelay() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.WhatsApp.ReconnectDelaySec) * time.Second
}

func (c *Config) LogFilePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	filename := c.Logging.Filename
	if filename == "" {
		filename = "shopbot.log"
	}
	return filepath.Join(expandHome(c.Logging.Dir), filename)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
