package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"git.home.luguber.info/inful/unitmon/internal/config"
	"git.home.luguber.info/inful/unitmon/internal/identity"
	"git.home.luguber.info/inful/unitmon/internal/systemd"
	"git.home.luguber.info/inful/unitmon/internal/version"
)

const defaultConfigTemplate = `# unitmon configuration

logging:
  level: info   # debug|info|warn|error
  format: text  # text|json

telegraf:
  socket_path: /run/telegraf/telegraf.sock
  measurement: systemd_units

# Comma-separated glob lists; * is the only wildcard. An empty include list
# means every unit is included, subject to excludes. Excludes win.
filters:
  include: ""
  exclude: ""

monitoring:
  poll_interval: 10  # seconds

admin:
  enabled: false
  listen: "127.0.0.1:9472"
`

// runInit writes a default configuration file.
func runInit(path string, force bool) error {
	if path == "" {
		path = "config.yaml"
	}
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file %s already exists (use --force to overwrite)", path)
	}
	if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

// runCheck validates the configuration and probes both external endpoints.
func runCheck(cfg *config.Config) error {
	failed := false

	session, err := identity.Resolve()
	if err != nil {
		fmt.Printf("identity:  FAIL (%v)\n", err)
		failed = true
	} else {
		fmt.Printf("identity:  OK (%s, uid %d)\n", session.Username, session.UID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := systemd.NewClient(ctx)
	if err != nil {
		fmt.Printf("bus:       FAIL (%v)\n", err)
		failed = true
	} else {
		defer client.Close()
		units, err := client.ListUnits(ctx)
		if err != nil {
			fmt.Printf("bus:       FAIL (%v)\n", err)
			failed = true
		} else {
			fmt.Printf("bus:       OK (%d units loaded)\n", len(units))
		}
	}

	conn, err := net.DialTimeout("unix", cfg.Telegraf.SocketPath, 5*time.Second)
	if err != nil {
		fmt.Printf("telegraf:  FAIL (%v)\n", err)
		failed = true
	} else {
		conn.Close()
		fmt.Printf("telegraf:  OK (%s)\n", cfg.Telegraf.SocketPath)
	}

	if failed {
		return fmt.Errorf("check failed")
	}
	return nil
}

func printVersion() {
	fmt.Printf("unitmon %s (built %s, commit %s)\n",
		version.Version, version.BuildTime, version.GitCommit)
}
