// sessionguard - inactivity timeout for signed-in terminal sessions.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/term"

	"github.com/jeranaias/sessionguard/internal/activity"
	"github.com/jeranaias/sessionguard/internal/audit"
	"github.com/jeranaias/sessionguard/internal/auth"
	"github.com/jeranaias/sessionguard/internal/cli"
	"github.com/jeranaias/sessionguard/internal/config"
	"github.com/jeranaias/sessionguard/internal/server"
	"github.com/jeranaias/sessionguard/internal/session"
	"github.com/jeranaias/sessionguard/internal/store"
	"github.com/jeranaias/sessionguard/internal/telemetry"
	"github.com/jeranaias/sessionguard/internal/ui/components"
	"github.com/jeranaias/sessionguard/internal/ui/portal"
)

// Version information (set at build time)
var (
	Version   = "0.3.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	args, err := cli.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	switch args.Command {
	case cli.CmdHelp:
		cli.HandleHelp()
		return
	case cli.CmdVersion:
		cli.HandleVersionWithJSON(args.JSON)
		return
	}

	cfg, err := loadConfig(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if args.Command != cli.CmdTUI {
		if err := cli.Execute(context.Background(), args, cfg, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := runTUI(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error running sessionguard: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the configuration selected by args and applies the
// --store override.
func loadConfig(args cli.Args) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if args.ConfigPath != "" {
		if err := config.LoadEnvFiles(); err != nil {
			return nil, err
		}
		cfg, err = config.LoadFromPath(args.ConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		if cfg == nil {
			return nil, err
		}
		fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
	}

	if args.Store != "" {
		cfg.Store.Backend = args.Store
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	config.SetGlobal(cfg)
	return cfg, nil
}

// =============================================================================
// TUI
// =============================================================================

func runTUI(cfg *config.Config) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return errors.New("the portal needs a terminal; use 'sessionguard status' for scripts")
	}

	// Log to a file so nothing is written over the alternate screen.
	if dir, err := config.ConfigDir(); err == nil && config.EnsureConfigDir() == nil {
		if f, err := tea.LogToFile(filepath.Join(dir, "sessionguard.log"), "sessionguard"); err == nil {
			defer f.Close()
		}
	}

	instanceID := store.NewWriterID()

	var auditLog *audit.Logger
	if cfg.Audit.Enabled {
		l, err := audit.New(cfg.Audit.Path)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		l.SetMaxSize(cfg.AuditMaxSize())
		defer l.Close()
		auditLog = l
	}

	telemetry.Register(prometheus.DefaultRegisterer)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.SignOutTimeout())
	shared, err := cli.OpenStore(ctx, cfg, instanceID)
	cancel()
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	defer shared.Close()

	authMgr := auth.NewManager(
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithAccount(cfg.Auth.Account),
		auth.WithSecret(cfg.Auth.TOTPSecret),
		auth.WithAuditLogger(auditLog, instanceID),
	)

	router := portal.NewRouter(portal.LoginRoute, portal.DefaultRoutes())
	toasts := components.NewToastStack()
	events := activity.NewDispatcher()

	coord, err := session.New(session.Options{
		Schedule: activity.Schedule{
			Timeout:        cfg.Timeout(),
			WarningOffsets: cfg.WarningOffsets(),
		},
		Policy: session.Policy{
			ExcludedPrefixes: cfg.Routes.Excluded,
			IncludedRoutes:   cfg.Routes.Included,
			SignedOutRoute:   cfg.Routes.SignedOut,
		},
		Auth:           authMgr,
		Navigator:      router,
		Notifier:       toasts,
		Store:          shared,
		Key:            cfg.Store.Key,
		Events:         events,
		Audit:          auditLog,
		InstanceID:     instanceID,
		SignOutDelay:   cfg.SignOutDelay(),
		SignOutTimeout: cfg.SignOutTimeout(),
	})
	if err != nil {
		return err
	}
	defer coord.Close()

	if cfg.Metrics.Enabled {
		srv := server.New(cfg.Metrics.Addr, coord)
		go func() {
			if err := srv.Start(); err != nil {
				log.Printf("SERVER_ERROR | addr=%s error=%v", srv.Addr(), err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	m := portal.New(portal.Options{
		Session:   coord,
		Auth:      authMgr,
		Router:    router,
		Toasts:    toasts,
		Events:    events,
		Landing:   cfg.Routes.Landing,
		SignedOut: cfg.Routes.SignedOut,
	})

	p := tea.NewProgram(
		m,
		tea.WithAltScreen(),
		tea.WithMouseAllMotion(),
		tea.WithReportFocus(),
	)
	_, err = p.Run()
	return err
}
