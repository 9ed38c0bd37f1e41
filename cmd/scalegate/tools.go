package main

import (
	"fmt"
	"os"

	"github.com/KevinKickass/ScaleGate/internal/auth"
	"github.com/KevinKickass/ScaleGate/internal/config"
	"github.com/KevinKickass/ScaleGate/internal/storage"
	"github.com/KevinKickass/ScaleGate/internal/transport"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func migrateCommand(c *cli.Context) error {
	data, err := os.ReadFile(c.String("in"))
	if err != nil {
		return err
	}

	devices, legacy, err := storage.MigrateLegacy(data)
	if err != nil {
		return err
	}
	if !legacy {
		return fmt.Errorf("%s is not in the legacy layout", c.String("in"))
	}

	if err := storage.NewFileStore(c.String("out"), zap.NewNop()).Save(c.Context, devices); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "migrated %d devices to %s\n", len(devices), c.String("out"))
	return nil
}

func portsCommand(c *cli.Context) error {
	ports, err := transport.ListSerialPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Fprintln(c.App.Writer, "no serial ports found")
		return nil
	}
	for _, p := range ports {
		fmt.Fprintln(c.App.Writer, p)
	}
	return nil
}

func tokenCommand(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if !cfg.Auth.IsProductionReady() {
		fmt.Fprintln(c.App.ErrWriter, "warning: signing with the development secret")
	}

	token, err := auth.NewJWTHandler(cfg.Auth.GetJWTSecret(), cfg.Auth.Issuer).
		GenerateAccessToken(c.String("subject"), c.String("role"), c.Duration("ttl"))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, token)
	return nil
}
