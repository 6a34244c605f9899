package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

type fileConfig struct {
	Addr   string `toml:"addr"`
	PVName string `toml:"pv_name"`
	Mode   string `toml:"mode"`
}

func defaultFileConfig() fileConfig {
	return fileConfig{
		Addr:   "127.0.0.1:5075",
		PVName: "demo:counter",
		Mode:   "get",
	}
}

func loadConfig(path string) (fileConfig, error) {
	cfg := defaultFileConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return fileConfig{}, fmt.Errorf("load pvclient config: %w", err)
	}
	cfg.Addr = strings.TrimSpace(cfg.Addr)
	cfg.PVName = strings.TrimSpace(cfg.PVName)
	cfg.Mode = strings.TrimSpace(cfg.Mode)
	return cfg, nil
}
