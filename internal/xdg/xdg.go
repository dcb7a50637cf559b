// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

// Package xdg resolves XDG Base Directory paths for Latchkey.
package xdg

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "latchkey"

// ConfigFileName is the config file looked up in ConfigDir.
const ConfigFileName = "config.yaml"

func base(env string, fallback ...string) (string, error) {
	if dir := os.Getenv(env); dir != "" {
		return filepath.Join(dir, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", oops.Code("XDG_NO_HOME").With("env", env).Wrap(err)
	}
	parts := append([]string{home}, fallback...)
	return filepath.Join(append(parts, appName)...), nil
}

// ConfigDir returns $XDG_CONFIG_HOME/latchkey, falling back to
// ~/.config/latchkey.
func ConfigDir() (string, error) {
	return base("XDG_CONFIG_HOME", ".config")
}

// DataDir returns $XDG_DATA_HOME/latchkey, falling back to
// ~/.local/share/latchkey.
func DataDir() (string, error) {
	return base("XDG_DATA_HOME", ".local", "share")
}

// StateDir returns $XDG_STATE_HOME/latchkey, falling back to
// ~/.local/state/latchkey.
func StateDir() (string, error) {
	return base("XDG_STATE_HOME", ".local", "state")
}

// ConfigFile returns the default config file path.
func ConfigFile() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName), nil
}

// EnsureDir creates path and its parents with 0700 permissions.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return oops.Code("XDG_MKDIR_FAILED").With("path", path).Wrap(err)
	}
	return nil
}
