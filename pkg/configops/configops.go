// Package configops edits the JSON config file in place by dotted path and
// signals a running gateway to pick up the change.
package configops

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"shopbot/pkg/config"
)

// ErrNotRunning is returned by SignalReload when no gateway pid file exists.
var ErrNotRunning = errors.New("gateway not running")

// PIDFile is where `shopbot run` records its process id, next to the config.
func PIDFile(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "shopbot.pid")
}

// LoadMap reads the config file as a generic map. A missing file yields the
// defaults.
func LoadMap(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		data, err = json.Marshal(config.DefaultConfig())
		if err != nil {
			return nil, err
		}
	}

	var cfgMap map[string]interface{}
	if err := json.Unmarshal(data, &cfgMap); err != nil {
		return nil, err
	}
	return cfgMap, nil
}

func NormalizePath(path string) string {
	p := strings.Trim(strings.TrimSpace(path), ".")
	parts := strings.Split(p, ".")
	for i, part := range parts {
		if part == "enable" {
			parts[i] = "enabled"
		}
	}
	return strings.Join(parts, ".")
}

// ParseValue turns a command-line value into the JSON type it most likely
// means. Comma-separated values become string lists when list is true.
func ParseValue(raw string, list bool) interface{} {
	v := strings.TrimSpace(raw)
	if list {
		out := []interface{}{}
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		return out
	}
	switch strings.ToLower(v) {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if i, err := strconv.ParseInt(v, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && strings.Contains(v, ".") {
		return f
	}
	if len(v) >= 2 && ((v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'')) {
		return v[1 : len(v)-1]
	}
	return v
}

func SetPath(root map[string]interface{}, path string, value interface{}) error {
	if path == "" {
		return fmt.Errorf("path is empty")
	}
	parts := strings.Split(path, ".")
	cur := root
	for _, key := range parts[:len(parts)-1] {
		if key == "" {
			return fmt.Errorf("invalid path: %s", path)
		}
		next, ok := cur[key]
		if !ok {
			child := map[string]interface{}{}
			cur[key] = child
			cur = child
			continue
		}
		child, ok := next.(map[string]interface{})
		if !ok {
			return fmt.Errorf("path segment is not an object: %s", key)
		}
		cur = child
	}
	last := parts[len(parts)-1]
	if last == "" {
		return fmt.Errorf("invalid path: %s", path)
	}
	cur[last] = value
	return nil
}

func GetPath(root map[string]interface{}, path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}
	var cur interface{} = root
	for _, key := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		if cur, ok = obj[key]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set writes value at path and keeps the change only if the resulting file
// loads and validates; otherwise the previous file is restored.
func Set(configPath, path string, value interface{}) error {
	cfgMap, err := LoadMap(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := SetPath(cfgMap, NormalizePath(path), value); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfgMap, "", "  ")
	if err != nil {
		return err
	}

	backup, err := WriteAtomic(configPath, data)
	if err != nil {
		return err
	}
	cfg, err := config.LoadConfig(configPath)
	if err == nil {
		if errs := config.Validate(cfg); len(errs) > 0 {
			err = errors.Join(errs...)
		}
	}
	if err != nil {
		if backup == "" {
			_ = os.Remove(configPath)
		} else if rbErr := Rollback(configPath, backup); rbErr != nil {
			return fmt.Errorf("invalid value (%v); rollback failed: %w", err, rbErr)
		}
		return fmt.Errorf("invalid value, change reverted: %w", err)
	}
	return nil
}

// WriteAtomic replaces configPath with data, keeping the previous content in
// a .bak file. The returned backup path is empty when there was no file.
func WriteAtomic(configPath string, data []byte) (string, error) {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return "", err
	}

	backupPath := ""
	if oldData, err := os.ReadFile(configPath); err == nil {
		backupPath = configPath + ".bak"
		if err := os.WriteFile(backupPath, oldData, 0644); err != nil {
			return "", fmt.Errorf("write backup failed: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("read existing config failed: %w", err)
	}

	tmpPath := configPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return "", fmt.Errorf("write temp config failed: %w", err)
	}
	if err := os.Rename(tmpPath, configPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("atomic replace config failed: %w", err)
	}
	return backupPath, nil
}

func Rollback(configPath, backupPath string) error {
	backupData, err := os.ReadFile(backupPath)
	if err != nil {
		return fmt.Errorf("read backup failed: %w", err)
	}
	tmpPath := configPath + ".rollback.tmp"
	if err := os.WriteFile(tmpPath, backupData, 0644); err != nil {
		return fmt.Errorf("write rollback temp failed: %w", err)
	}
	if err := os.Rename(tmpPath, configPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rollback replace failed: %w", err)
	}
	return nil
}

// SignalReload sends SIGHUP to the gateway recorded in the pid file.
func SignalReload(configPath string) error {
	pidPath := PIDFile(configPath)
	data, err := os.ReadFile(pidPath)
	if err != nil {
		return fmt.Errorf("%w (pid file not found: %s)", ErrNotRunning, pidPath)
	}

	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return fmt.Errorf("invalid gateway pid: %q", pidStr)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process failed: %w", err)
	}
	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return fmt.Errorf("send SIGHUP failed: %w", err)
	}
	return nil
}
