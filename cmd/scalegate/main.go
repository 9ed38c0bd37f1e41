package main

import (
	"log"
	"os"
	"time"

	"github.com/KevinKickass/ScaleGate/internal/api/rest"
	"github.com/urfave/cli/v2"
)

func main() {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		EnvVars: []string{"SCALEGATE_CONFIG"},
		Value:   "configs/config.yaml",
		Usage:   "path to the gateway config file",
	}
	logLevelFlag := &cli.StringFlag{
		Name:    "log-level",
		EnvVars: []string{"SCALEGATE_LOG_LEVEL"},
		Usage:   "overrides log.level from the config file",
	}

	app := &cli.App{
		Name:    "scalegate",
		Usage:   "protocol gateway for industrial weighing indicators",
		Version: rest.Version,
		Flags:   []cli.Flag{configFlag, logLevelFlag},
		Action:  serveCommand,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the gateway until SIGINT or SIGTERM",
				Flags:  []cli.Flag{configFlag, logLevelFlag},
				Action: serveCommand,
			},
			{
				Name:  "migrate",
				Usage: "convert a legacy hosts/meters/devices registry to the current layout",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "in", Required: true, Usage: "legacy registry file"},
					&cli.StringFlag{Name: "out", Required: true, Usage: "output file (.json, .yaml or .yml)"},
				},
				Action: migrateCommand,
			},
			{
				Name:   "ports",
				Usage:  "list local serial ports",
				Action: portsCommand,
			},
			{
				Name:  "token",
				Usage: "mint a bearer token for the mutating API routes",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{Name: "subject", Required: true, Usage: "who the token is for"},
					&cli.StringFlag{Name: "role", Value: "operator", Usage: "operator, technician or admin"},
					&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour},
				},
				Action: tokenCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
