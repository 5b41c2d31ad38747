// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/sessionguard/internal/activity"
	"github.com/jeranaias/sessionguard/internal/auth"
	"github.com/jeranaias/sessionguard/internal/config"
	"github.com/jeranaias/sessionguard/internal/store"
	"github.com/jeranaias/sessionguard/internal/ui/components"
)

// storeTimeout bounds store access from one-shot commands.
const storeTimeout = 5 * time.Second

// ErrAlreadyEnrolled is returned by enroll when a secret exists and --force
// was not given.
var ErrAlreadyEnrolled = errors.New("a TOTP secret is already configured (use --force to replace it)")

// OpenStore opens the store selected by cfg, with writerID labelling writes.
func OpenStore(ctx context.Context, cfg *config.Config, writerID string) (store.Store, error) {
	path, err := cfg.StorePath()
	if err != nil {
		return nil, err
	}
	return store.Open(ctx, store.Options{
		Backend:      cfg.Store.Backend,
		Path:         path,
		RedisURL:     cfg.Store.RedisURL,
		PostgresDSN:  cfg.Store.PostgresDSN,
		PollInterval: cfg.PollInterval(),
		WriterID:     writerID,
	})
}

// Execute runs a non-interactive command against cfg, writing to w.
func Execute(ctx context.Context, args Args, cfg *config.Config, w io.Writer) error {
	switch args.Command {
	case CmdStatus:
		return HandleStatus(ctx, cfg, w, args.JSON)
	case CmdClear:
		return HandleClear(ctx, cfg, w, args.JSON)
	case CmdEnroll:
		opts := NewArgParser(args.Options, "force")
		return HandleEnroll(cfg, args.ConfigPath, EnrollOptions{
			Account: opts.Flag("account"),
			Force:   opts.BoolFlag("force"),
		}, w, args.JSON)
	case CmdVersion:
		return PrintVersion(w, args.JSON)
	case CmdHelp:
		PrintUsage(w)
		return nil
	default:
		return fmt.Errorf("%s is not a one-shot command", args.Command)
	}
}

// =============================================================================
// STATUS
// =============================================================================

// StatusReport describes the shared last-activity record.
type StatusReport struct {
	Backend       string     `json:"backend"`
	Key           string     `json:"key"`
	Present       bool       `json:"present"`
	LastActivity  *time.Time `json:"last_activity,omitempty"`
	ElapsedSecs   int        `json:"elapsed_secs"`
	RemainingSecs int        `json:"remaining_secs"`
	// State is "none", "active", "warning" or "expired".
	State string `json:"state"`
}

// DescribeRecord classifies a raw stored value against sched at now.
// Timestamps in the future count as zero elapsed.
func DescribeRecord(value string, ok bool, sched activity.Schedule, now time.Time) StatusReport {
	report := StatusReport{State: "none"}
	if !ok {
		return report
	}
	last, valid := activity.DecodeTimestamp(value)
	if !valid {
		return report
	}

	elapsed := now.Sub(last)
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := sched.Timeout - elapsed
	if remaining < 0 {
		remaining = 0
	}

	report.Present = true
	report.LastActivity = &last
	report.ElapsedSecs = int(elapsed / time.Second)
	report.RemainingSecs = int((remaining + time.Second - 1) / time.Second)

	switch {
	case remaining == 0:
		report.State = "expired"
	case len(sched.WarningOffsets) > 0 && remaining <= sched.WarningOffsets[0]:
		report.State = "warning"
	default:
		report.State = "active"
	}
	return report
}

// HandleStatus reads the shared record and reports the time remaining.
func HandleStatus(ctx context.Context, cfg *config.Config, w io.Writer, asJSON bool) error {
	report, err := readStatus(ctx, cfg, time.Now())
	if err != nil {
		if asJSON {
			return NewJSONErrorResponse("status", err).Print(w)
		}
		return err
	}

	if asJSON {
		return NewJSONResponse("status", report).Print(w)
	}

	fmt.Fprintf(w, "Store:     %s\n", report.Backend)
	fmt.Fprintf(w, "Key:       %s\n", report.Key)
	if !report.Present {
		fmt.Fprintln(w, "Activity:  none recorded")
		return nil
	}
	fmt.Fprintf(w, "Activity:  %s (%s ago)\n",
		report.LastActivity.Local().Format(time.RFC3339),
		time.Duration(report.ElapsedSecs)*time.Second)
	fmt.Fprintf(w, "Remaining: %s\n", components.FormatCountdown(time.Duration(report.RemainingSecs)*time.Second))
	fmt.Fprintf(w, "State:     %s\n", report.State)
	return nil
}

func readStatus(ctx context.Context, cfg *config.Config, now time.Time) (StatusReport, error) {
	sched, err := activity.NewSchedule(cfg.Timeout(), cfg.WarningOffsets()...)
	if err != nil {
		return StatusReport{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	st, err := OpenStore(ctx, cfg, "")
	if err != nil {
		return StatusReport{}, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	value, ok, err := st.Get(ctx, cfg.Store.Key)
	if err != nil {
		return StatusReport{}, fmt.Errorf("read %s: %w", cfg.Store.Key, err)
	}

	report := DescribeRecord(value, ok, sched, now)
	report.Backend = cfg.Store.Backend
	report.Key = cfg.Store.Key
	return report, nil
}

// =============================================================================
// CLEAR
// =============================================================================

// HandleClear deletes the shared record so every instance starts fresh.
func HandleClear(ctx context.Context, cfg *config.Config, w io.Writer, asJSON bool) error {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	err := clearRecord(ctx, cfg)
	if asJSON {
		if err != nil {
			return NewJSONErrorResponse("clear", err).Print(w)
		}
		return NewJSONResponse("clear", map[string]string{"key": cfg.Store.Key}).Print(w)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Cleared %s from the %s store.\n", cfg.Store.Key, cfg.Store.Backend)
	return nil
}

func clearRecord(ctx context.Context, cfg *config.Config) error {
	st, err := OpenStore(ctx, cfg, "")
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.Delete(ctx, cfg.Store.Key); err != nil {
		return fmt.Errorf("delete %s: %w", cfg.Store.Key, err)
	}
	return nil
}

// =============================================================================
// ENROLL
// =============================================================================

// EnrollOptions are the enroll command's flags.
type EnrollOptions struct {
	Account string
	Force   bool
}

// EnrollResult is the JSON form of a successful enrolment.
type EnrollResult struct {
	Issuer     string `json:"issuer"`
	Account    string `json:"account"`
	Secret     string `json:"secret"`
	URL        string `json:"url"`
	ConfigPath string `json:"config_path"`
}

// HandleEnroll generates a TOTP secret, stores it in the config file and
// prints the provisioning URL. configPath selects the file to write; empty
// means the default location.
func HandleEnroll(cfg *config.Config, configPath string, opts EnrollOptions, w io.Writer, asJSON bool) error {
	result, err := enroll(cfg, configPath, opts)
	if asJSON {
		if err != nil {
			return NewJSONErrorResponse("enroll", err).Print(w)
		}
		return NewJSONResponse("enroll", result).Print(w)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Enrolled %s for %s.\n\n", result.Account, result.Issuer)
	fmt.Fprintln(w, "Add this to your authenticator app:")
	fmt.Fprintf(w, "  %s\n\n", result.URL)
	fmt.Fprintf(w, "Or enter the secret manually: %s\n", result.Secret)
	fmt.Fprintf(w, "Saved to %s\n", result.ConfigPath)
	return nil
}

func enroll(cfg *config.Config, configPath string, opts EnrollOptions) (EnrollResult, error) {
	if cfg.Auth.TOTPSecret != "" && !opts.Force {
		return EnrollResult{}, ErrAlreadyEnrolled
	}
	if strings.EqualFold(filepath.Ext(configPath), ".json") {
		return EnrollResult{}, fmt.Errorf("enroll writes TOML; %s is a JSON config", configPath)
	}
	if opts.Account != "" {
		cfg.Auth.Account = opts.Account
	}

	key, err := auth.Enroll(cfg.Auth.Issuer, cfg.Auth.Account)
	if err != nil {
		return EnrollResult{}, err
	}
	cfg.Auth.TOTPSecret = key.Secret()

	if configPath == "" {
		if err := config.Save(cfg); err != nil {
			return EnrollResult{}, err
		}
		if configPath, err = config.ConfigPathTOML(); err != nil {
			return EnrollResult{}, err
		}
	} else if err := config.SaveTOML(cfg, configPath); err != nil {
		return EnrollResult{}, err
	}

	return EnrollResult{
		Issuer:     key.Issuer(),
		Account:    key.AccountName(),
		Secret:     key.Secret(),
		URL:        key.URL(),
		ConfigPath: configPath,
	}, nil
}
