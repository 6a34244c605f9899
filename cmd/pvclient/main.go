package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/openpva/pva/internal/client"
	"github.com/openpva/pva/internal/config"
	"github.com/openpva/pva/internal/diag"
	"github.com/openpva/pva/internal/logging"
	"github.com/openpva/pva/internal/pvop"
	"github.com/openpva/pva/internal/pvtype"
	"github.com/openpva/pva/internal/pvvalue"
	"github.com/openpva/pva/internal/transport"
)

func main() {
	var cfgPath string
	var connCfgPath string
	var initConnConfig string
	var diagAddr string
	var putValue int64
	flag.StringVar(&cfgPath, "config", "", "path to a pvclient TOML config")
	flag.StringVar(&connCfgPath, "conn-config", "", "path to a connection/TLS TOML config")
	flag.StringVar(&initConnConfig, "init-conn-config", "", "write a starter connection/TLS TOML config to this path and exit")
	flag.StringVar(&diagAddr, "diag-addr", "", "if set, serve a read-only status/metrics sidecar on this address")
	flag.Int64Var(&putValue, "value", 0, "value to write in -mode=put")
	flag.Parse()

	logging.ConfigureRuntime()

	if initConnConfig != "" {
		if err := config.WriteTemplate(initConnConfig, false); err != nil {
			fail(err)
		}
		return
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		fail(err)
	}

	connCfg, err := config.Load(connCfgPath)
	if err != nil {
		fail(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := client.Connect(ctx, cfg.Addr, connCfg)
	if err != nil {
		fail(fmt.Errorf("connect %s: %w", cfg.Addr, err))
	}
	defer c.Close()

	if diagAddr != "" {
		registry := diag.NewRegistry()
		registry.Register(cfg.PVName, c)
		sidecar := diag.Appear("pvclient", diagAddr, nil, registry)
		go func() {
			if err := sidecar.Serve(); err != nil {
				logger := logging.Named("pvclient")
				logger.Warn().Err(err).Msg("diag sidecar stopped")
			}
		}()
	}

	switch cfg.Mode {
	case "get":
		err = runGet(ctx, c, cfg.PVName)
	case "info":
		err = runInfo(ctx, c, cfg.PVName)
	case "put":
		err = runPut(ctx, c, cfg.PVName, putValue)
	case "monitor":
		err = runMonitor(ctx, c, cfg.PVName)
	default:
		err = fmt.Errorf("unknown mode %q (expected get, info, put, or monitor)", cfg.Mode)
	}
	if err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "pvclient: %v\n", err)
	os.Exit(1)
}

func runGet(ctx context.Context, c *client.Context, name string) error {
	done := make(chan pvop.GetResult, 1)
	op, err := c.Get(name).Exec(ctx, func(res pvop.GetResult) { done <- res })
	if err != nil {
		return err
	}
	defer op.Cancel()

	select {
	case res := <-done:
		if res.Err != nil {
			return res.Err
		}
		n, _ := res.Value.AsInt64()
		fmt.Printf("%s = %d\n", name, n)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func runInfo(ctx context.Context, c *client.Context, name string) error {
	done := make(chan pvop.InfoResult, 1)
	op, err := c.Info(name).Exec(ctx, func(res pvop.InfoResult) { done <- res })
	if err != nil {
		return err
	}
	defer op.Cancel()

	select {
	case res := <-done:
		if res.Err != nil {
			return res.Err
		}
		fmt.Printf("%s: type=%s\n", name, res.Value.Desc().Code)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func runPut(ctx context.Context, c *client.Context, name string, value int64) error {
	desc := pvtype.Scalar(pvtype.Int32)
	mv := pvvalue.NewRoot(desc)
	if err := mv.SetInt64(value); err != nil {
		return err
	}
	if err := mv.Mark(); err != nil {
		return err
	}

	done := make(chan error, 1)
	op, err := c.Put(name).Exec(ctx, mv, func(err error) { done <- err })
	if err != nil {
		return err
	}
	defer op.Cancel()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
		fmt.Printf("%s <- %d\n", name, value)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func runMonitor(ctx context.Context, c *client.Context, name string) error {
	op, err := c.Monitor(name).Exec(ctx)
	if err != nil {
		return err
	}
	defer op.Cancel()

	for {
		ev, err := op.Pop(ctx)
		switch {
		case err == transport.ErrConnected:
			fmt.Printf("%s: subscribed\n", name)
			continue
		case err != nil:
			return err
		case ev.Value.IsEmpty():
			fmt.Printf("%s: monitor finished\n", name)
			return nil
		default:
			n, _ := ev.Value.AsInt64()
			fmt.Printf("%s = %d (overrun=%v)\n", name, n, ev.Overrun)
		}
	}
}
