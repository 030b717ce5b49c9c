package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate returns configuration problems found in cfg.
// It does not mutate cfg.
func Validate(cfg *Config) []error {
	if cfg == nil {
		return []error{fmt.Errorf("config is nil")}
	}

	var errs []error

	wa := cfg.WhatsApp
	switch wa.Transport {
	case "whatsmeow":
		if strings.TrimSpace(wa.DeviceStore) == "" {
			errs = append(errs, fmt.Errorf("whatsapp.device_store is required for the whatsmeow transport"))
		}
	case "bridge":
		if err := validateURL("whatsapp.bridge_url", wa.BridgeURL, "ws", "wss"); err != nil {
			errs = append(errs, err)
		}
	default:
		errs = append(errs, fmt.Errorf("whatsapp.transport must be one of: whatsmeow, bridge"))
	}
	if wa.ReconnectDelaySec <= 0 {
		errs = append(errs, fmt.Errorf("whatsapp.reconnect_delay_sec must be > 0"))
	}
	if wa.ConnectTimeoutSec <= 0 {
		errs = append(errs, fmt.Errorf("whatsapp.connect_timeout_sec must be > 0"))
	}

	if strings.TrimSpace(cfg.Database.Path) == "" {
		errs = append(errs, fmt.Errorf("database.path is required"))
	}

	d := cfg.Delivery
	if d.MinDelayMS < 0 {
		errs = append(errs, fmt.Errorf("delivery.min_delay_ms must be >= 0"))
	}
	if d.MaxDelayMS < d.MinDelayMS {
		errs = append(errs, fmt.Errorf("delivery.max_delay_ms must be >= delivery.min_delay_ms"))
	}
	if err := validateURL("delivery.image_base_url", d.ImageBaseURL, "http", "https"); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(d.ClosingPrompt) == "" {
		errs = append(errs, fmt.Errorf("delivery.closing_prompt must not be empty"))
	}
	if d.SendsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("delivery.sends_per_second must be >= 0"))
	}
	if d.SendsPerSecond > 0 && d.SendBurst <= 0 {
		errs = append(errs, fmt.Errorf("delivery.send_burst must be > 0 when sends_per_second is set"))
	}

	l := cfg.Links
	errs = append(errs, validateNonEmptyStringList("links.markers", l.Markers)...)
	if l.MaxRedirects <= 0 {
		errs = append(errs, fmt.Errorf("links.max_redirects must be > 0"))
	}
	if l.TimeoutSec <= 0 {
		errs = append(errs, fmt.Errorf("links.timeout_sec must be > 0"))
	}

	p := cfg.Pages
	if err := validateURL("pages.graph_api_base", p.GraphAPIBase, "http", "https"); err != nil {
		errs = append(errs, err)
	}
	if p.TimeoutSec <= 0 {
		errs = append(errs, fmt.Errorf("pages.timeout_sec must be > 0"))
	}
	for i, id := range p.PageIDs {
		if strings.TrimSpace(id) == "" {
			errs = append(errs, fmt.Errorf("pages.page_ids[%d] must not be empty", i))
		}
	}

	if cfg.Reminder.Enabled {
		if cfg.Reminder.Delay <= 0 {
			errs = append(errs, fmt.Errorf("reminder.delay must be > 0 when reminders are enabled"))
		}
		if strings.TrimSpace(cfg.Reminder.Message) == "" {
			errs = append(errs, fmt.Errorf("reminder.message must not be empty when reminders are enabled"))
		}
	}

	c := cfg.Cron
	if c.MinSleepSec <= 0 || c.MaxSleepSec <= 0 || c.MinSleepSec > c.MaxSleepSec {
		errs = append(errs, fmt.Errorf("cron.min_sleep_sec and cron.max_sleep_sec must be > 0 with min <= max"))
	}
	if c.MaxWorkers <= 0 {
		errs = append(errs, fmt.Errorf("cron.max_workers must be > 0"))
	}

	if cfg.Gateway.Port <= 0 || cfg.Gateway.Port > 65535 {
		errs = append(errs, fmt.Errorf("gateway.port must be in 1..65535"))
	}

	return errs
}

func validateURL(path, raw string, schemes ...string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL", path)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%s scheme must be one of: %s", path, strings.Join(schemes, ", "))
}

func validateNonEmptyStringList(path string, values []string) []error {
	if len(values) == 0 {
		return []error{fmt.Errorf("%s must contain at least one value", path)}
	}
	var errs []error
	for i, v := range values {
		if strings.TrimSpace(v) == "" {
			errs = append(errs, fmt.Errorf("%s[%d] must not be empty", path, i))
		}
	}
	return errs
}
