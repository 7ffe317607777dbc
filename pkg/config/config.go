// Package config manages persistent settings for the js8chess bridge.
// Settings are stored as JSON at $HOME/.js8chess/config.json.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// Dir is the fixed per-user directory holding the config file, the log
// file, and per-game notation files.
const Dir = ".js8chess"

// File is the config filename within Dir.
const File = "config.json"

// Config holds the recognized options of spec §3. It is immutable after
// Load: callers that want to persist a change call Save with a modified
// copy.
type Config struct {
	LocalCallsign  string `json:"local_callsign"`
	RemoteCallsign string `json:"remote_callsign"`

	JS8Host string `json:"js8_host"`
	JS8Port int    `json:"js8_port"`

	AckWaitSeconds          int  `json:"ack_wait_seconds"`
	MoveResponseWaitSeconds int  `json:"move_response_wait_seconds"`
	MaxRetries              int  `json:"max_retries"`
	AutoAccept              bool `json:"auto_accept"`
}

// Default returns the out-of-box configuration, matching the original
// implementation's defaults.
func Default() Config {
	return Config{
		LocalCallsign:           "CALLSIGN",
		RemoteCallsign:          "SWL",
		JS8Host:                 "127.0.0.1",
		JS8Port:                 2442,
		AckWaitSeconds:          60,
		MoveResponseWaitSeconds: 120,
		MaxRetries:              3,
		AutoAccept:              true,
	}
}

// Home returns the fixed config/log/notation directory under the user's
// home directory.
func Home() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, Dir), nil
}

// Path returns the absolute path to the config file.
func Path() (string, error) {
	dir, err := Home()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, File), nil
}

// Load reads the config file, creating it with defaults if absent, and
// normalizes callsigns to uppercase. It never errors: any failure to read,
// parse, or create the file on disk falls back to Default().
func Load() Config {
	dir, err := Home()
	if err != nil {
		return normalize(Default())
	}
	path := filepath.Join(dir, File)

	data, err := os.ReadFile(path)
	if err != nil {
		cfg := Default()
		_ = Save(cfg)
		return normalize(cfg)
	}

	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return normalize(Default())
	}
	return normalize(cfg)
}

// Save writes cfg to disk, creating the directory if needed.
func Save(cfg Config) error {
	dir, err := Home()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, File), data, 0o600)
}

func normalize(cfg Config) Config {
	cfg.LocalCallsign = strings.ToUpper(strings.TrimSpace(cfg.LocalCallsign))
	cfg.RemoteCallsign = strings.ToUpper(strings.TrimSpace(cfg.RemoteCallsign))
	return cfg
}
