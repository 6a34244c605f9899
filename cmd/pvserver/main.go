package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/openpva/pva/internal/config"
	"github.com/openpva/pva/internal/logging"
	"github.com/openpva/pva/internal/pvserver"
	"github.com/openpva/pva/internal/pvtype"
	"github.com/openpva/pva/internal/pvvalue"
)

func main() {
	var cfgPath string
	var connCfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to a pvserver TOML config")
	flag.StringVar(&connCfgPath, "conn-config", "", "path to a connection/TLS TOML config")
	flag.Parse()

	logging.ConfigureRuntime()

	cfg, pvName, initial, err := loadConfig(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pvserver: %v\n", err)
		os.Exit(1)
	}

	connCfg, err := config.LoadServer(connCfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pvserver: %v\n", err)
		os.Exit(1)
	}
	cfg = cfg.FromTransport(connCfg)

	registry := pvserver.NewRegistry()
	desc := pvtype.Scalar(pvtype.Int32)
	pv := registry.Declare(pvName, desc)
	mv := pvvalue.NewRoot(desc)
	_ = mv.SetInt64(initial)
	pv.Seed(mv)

	srv := pvserver.New(cfg, registry)
	if err := srv.Listen(); err != nil {
		fmt.Fprintf(os.Stderr, "pvserver: listen: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Named("pvserver")
	logger.Info().
		Str("addr", srv.Addr()).
		Str("pv", pvName).
		Int64("initial_value", initial).
		Msg("listening")

	if err := srv.Serve(); err != nil {
		fmt.Fprintf(os.Stderr, "pvserver: %v\n", err)
		os.Exit(1)
	}
}
