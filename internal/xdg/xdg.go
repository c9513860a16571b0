// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

// Package xdg provides XDG Base Directory paths for TaskPulse.
package xdg

import (
	"os"
	"path/filepath"
)

const (
	appName        = "taskpulse"
	configFileName = "config.yaml"
)

// ConfigDir returns the XDG config directory for taskpulse.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// ConfigFile returns the default config file path, whether or not it exists.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), configFileName)
}

// ExistingConfigFile returns ConfigFile() if it is a regular file, otherwise "".
func ExistingConfigFile() string {
	path := ConfigFile()
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return ""
	}
	return path
}
