package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/openpva/pva/internal/pvserver"
)

type fileConfig struct {
	ListenAddr   string `toml:"listen_addr"`
	PVName       string `toml:"pv_name"`
	InitialValue int64  `toml:"initial_value"`
}

func defaultFileConfig() fileConfig {
	return fileConfig{
		ListenAddr:   "127.0.0.1:5075",
		PVName:       "demo:counter",
		InitialValue: 0,
	}
}

// loadConfig reads path (if non-empty) as a TOML overlay on top of a
// pre-populated default, the same pattern ghostctl's config loader uses.
func loadConfig(path string) (pvserver.Config, string, int64, error) {
	raw := defaultFileConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, &raw); err != nil {
			return pvserver.Config{}, "", 0, fmt.Errorf("load pvserver config: %w", err)
		}
	}

	cfg := pvserver.DefaultConfig()
	if addr := strings.TrimSpace(raw.ListenAddr); addr != "" {
		cfg.ListenAddr = addr
	}
	name := strings.TrimSpace(raw.PVName)
	if name == "" {
		name = "demo:counter"
	}
	return cfg, name, raw.InitialValue, nil
}
