// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jeranaias/sessionguard/internal/activity"
	"github.com/jeranaias/sessionguard/internal/config"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name       string
		raw        []string
		command    Command
		configPath string
		store      string
		json       bool
		options    []string
	}{
		{"empty runs tui", nil, CmdTUI, "", "", false, nil},
		{"status", []string{"status"}, CmdStatus, "", "", false, nil},
		{"alias", []string{"st"}, CmdStatus, "", "", false, nil},
		{"json after command", []string{"status", "--json"}, CmdStatus, "", "", true, nil},
		{"config before command", []string{"--config", "/tmp/sg.toml", "clear"}, CmdClear, "/tmp/sg.toml", "", false, nil},
		{"config equals", []string{"--config=/tmp/sg.toml"}, CmdTUI, "/tmp/sg.toml", "", false, nil},
		{"short config", []string{"-c", "a.toml", "tui"}, CmdTUI, "a.toml", "", false, nil},
		{"store override", []string{"--store=sqlite", "status"}, CmdStatus, "", "sqlite", false, nil},
		{"enroll options", []string{"enroll", "--account", "ops", "--force"}, CmdEnroll, "", "", false, []string{"--account", "ops", "--force"}},
		{"version flag", []string{"--version"}, CmdVersion, "", "", false, nil},
		{"help flag", []string{"-h"}, CmdHelp, "", "", false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := ParseArgs(tt.raw)
			if err != nil {
				t.Fatalf("ParseArgs(%v) error: %v", tt.raw, err)
			}
			if args.Command != tt.command {
				t.Errorf("Command = %v, want %v", args.Command, tt.command)
			}
			if args.ConfigPath != tt.configPath {
				t.Errorf("ConfigPath = %q, want %q", args.ConfigPath, tt.configPath)
			}
			if args.Store != tt.store {
				t.Errorf("Store = %q, want %q", args.Store, tt.store)
			}
			if args.JSON != tt.json {
				t.Errorf("JSON = %v, want %v", args.JSON, tt.json)
			}
			if strings.Join(args.Options, " ") != strings.Join(tt.options, " ") {
				t.Errorf("Options = %v, want %v", args.Options, tt.options)
			}
		})
	}
}

func TestParseArgs_Errors(t *testing.T) {
	for _, raw := range [][]string{
		{"frobnicate"},
		{"--config"},
		{"status", "--store"},
	} {
		if _, err := ParseArgs(raw); err == nil {
			t.Errorf("ParseArgs(%v) should fail", raw)
		}
	}
}

func TestArgParser(t *testing.T) {
	p := NewArgParser([]string{"--account", "ops", "--force", "extra", "--issuer=acme"}, "force")

	if got := p.Flag("account"); got != "ops" {
		t.Errorf("Flag(account) = %q", got)
	}
	if got := p.Flag("--issuer"); got != "acme" {
		t.Errorf("Flag(issuer) = %q", got)
	}
	if !p.BoolFlag("force") {
		t.Error("BoolFlag(force) = false")
	}
	if got := p.Positional(0); got != "extra" {
		t.Errorf("Positional(0) = %q", got)
	}
	if p.PositionalCount() != 1 || p.Positional(5) != "" {
		t.Errorf("unexpected positionals")
	}
	if got := p.FlagOrDefault("missing", "x"); got != "x" {
		t.Errorf("FlagOrDefault = %q", got)
	}
}

func TestDescribeRecord(t *testing.T) {
	sched, err := activity.NewSchedule(10*time.Minute, 2*time.Minute, 30*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	stamp := func(ago time.Duration) string { return activity.EncodeTimestamp(now.Add(-ago)) }

	tests := []struct {
		name      string
		value     string
		ok        bool
		state     string
		remaining int
	}{
		{"missing", "", false, "none", 0},
		{"garbage", "not-a-time", true, "none", 0},
		{"fresh", stamp(time.Minute), true, "active", 540},
		{"warning", stamp(9 * time.Minute), true, "warning", 60},
		{"expired", stamp(11 * time.Minute), true, "expired", 0},
		{"future", activity.EncodeTimestamp(now.Add(time.Hour)), true, "active", 600},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := DescribeRecord(tt.value, tt.ok, sched, now)
			if r.State != tt.state {
				t.Errorf("State = %q, want %q", r.State, tt.state)
			}
			if r.RemainingSecs != tt.remaining {
				t.Errorf("RemainingSecs = %d, want %d", r.RemainingSecs, tt.remaining)
			}
		})
	}
}

func fileConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	cfg := config.Default()
	cfg.Store.Backend = "file"
	cfg.Store.Path = filepath.Join(t.TempDir(), "shared")
	return cfg
}

func TestStatusAndClear(t *testing.T) {
	cfg := fileConfig(t)
	ctx := context.Background()

	st, err := OpenStore(ctx, cfg, "writer-a")
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Set(ctx, cfg.Store.Key, activity.EncodeTimestamp(time.Now().Add(-time.Minute))); err != nil {
		t.Fatal(err)
	}
	st.Close()

	var out bytes.Buffer
	if err := HandleStatus(ctx, cfg, &out, true); err != nil {
		t.Fatal(err)
	}
	var resp struct {
		Success bool         `json:"success"`
		Data    StatusReport `json:"data"`
	}
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("bad JSON %q: %v", out.String(), err)
	}
	if !resp.Success || !resp.Data.Present || resp.Data.State != "active" {
		t.Errorf("unexpected status: %+v", resp)
	}

	out.Reset()
	if err := HandleClear(ctx, cfg, &out, false); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Cleared") {
		t.Errorf("clear output = %q", out.String())
	}

	out.Reset()
	if err := HandleStatus(ctx, cfg, &out, false); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "none recorded") {
		t.Errorf("status after clear = %q", out.String())
	}
}

func TestEnroll(t *testing.T) {
	cfg := fileConfig(t)
	path := filepath.Join(t.TempDir(), "config.toml")

	var out bytes.Buffer
	err := HandleEnroll(cfg, path, EnrollOptions{Account: "ops"}, &out, false)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "otpauth://totp/") {
		t.Errorf("enroll output missing URL: %q", out.String())
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := config.LoadFromPath(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Auth.TOTPSecret == "" || loaded.Auth.Account != "ops" {
		t.Errorf("secret not saved: %+v", loaded.Auth)
	}

	err = HandleEnroll(loaded, path, EnrollOptions{}, &out, false)
	if !errors.Is(err, ErrAlreadyEnrolled) {
		t.Errorf("second enroll error = %v, want ErrAlreadyEnrolled", err)
	}
	if err := HandleEnroll(loaded, path, EnrollOptions{Force: true}, &out, false); err != nil {
		t.Errorf("forced enroll: %v", err)
	}
}

func TestExecute_Version(t *testing.T) {
	var out bytes.Buffer
	if err := Execute(context.Background(), Args{Command: CmdVersion, JSON: true}, config.Default(), &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), `"version"`) {
		t.Errorf("version JSON = %q", out.String())
	}
	if err := Execute(context.Background(), Args{Command: CmdTUI}, config.Default(), &out); err == nil {
		t.Error("Execute(tui) should fail")
	}
}
