// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
)

// =============================================================================
// VERSION INFO
// =============================================================================

// Set at build time via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// =============================================================================
// COMMAND TYPES
// =============================================================================

// Command is a top-level sessionguard command.
type Command int

const (
	CmdTUI Command = iota
	CmdStatus
	CmdClear
	CmdEnroll
	CmdVersion
	CmdHelp
)

// String returns the command name as typed on the command line.
func (c Command) String() string {
	switch c {
	case CmdTUI:
		return "tui"
	case CmdStatus:
		return "status"
	case CmdClear:
		return "clear"
	case CmdEnroll:
		return "enroll"
	case CmdVersion:
		return "version"
	case CmdHelp:
		return "help"
	default:
		return "unknown"
	}
}

var commandNames = map[string]Command{
	"tui":       CmdTUI,
	"run":       CmdTUI,
	"status":    CmdStatus,
	"st":        CmdStatus,
	"clear":     CmdClear,
	"enroll":    CmdEnroll,
	"version":   CmdVersion,
	"--version": CmdVersion,
	"-v":        CmdVersion,
	"help":      CmdHelp,
	"--help":    CmdHelp,
	"-h":        CmdHelp,
}

// Args holds parsed command-line arguments.
type Args struct {
	Command Command

	// Global flags.
	ConfigPath string
	Store      string
	JSON       bool

	// Options are the remaining command-specific arguments.
	Options []string
	// Raw is the unparsed argument list.
	Raw []string
}

// =============================================================================
// PARSING
// =============================================================================

// Parse parses os.Args.
func Parse() (Args, error) {
	return ParseArgs(os.Args[1:])
}

// ParseArgs parses raw, which excludes the program name. Global flags may
// appear anywhere; the first non-flag word selects the command.
func ParseArgs(raw []string) (Args, error) {
	args := Args{Command: CmdTUI, Raw: raw}

	rest, err := parseGlobalFlags(&args, raw)
	if err != nil {
		return args, err
	}

	if len(rest) == 0 {
		return args, nil
	}

	cmd, ok := commandNames[strings.ToLower(rest[0])]
	if !ok {
		return args, fmt.Errorf("unknown command %q (run 'sessionguard help')", rest[0])
	}
	args.Command = cmd
	args.Options = rest[1:]
	return args, nil
}

// parseGlobalFlags extracts global flags into args and returns what is left.
func parseGlobalFlags(args *Args, raw []string) ([]string, error) {
	var rest []string
	for i := 0; i < len(raw); i++ {
		arg := raw[i]
		switch {
		case arg == "--json":
			args.JSON = true
		case arg == "--config" || arg == "-c":
			if i+1 >= len(raw) {
				return nil, fmt.Errorf("%s requires a path", arg)
			}
			i++
			args.ConfigPath = raw[i]
		case strings.HasPrefix(arg, "--config="):
			args.ConfigPath = strings.TrimPrefix(arg, "--config=")
		case arg == "--store":
			if i+1 >= len(raw) {
				return nil, fmt.Errorf("%s requires a backend name", arg)
			}
			i++
			args.Store = raw[i]
		case strings.HasPrefix(arg, "--store="):
			args.Store = strings.TrimPrefix(arg, "--store=")
		default:
			rest = append(rest, arg)
		}
	}
	return rest, nil
}

// =============================================================================
// HELP / VERSION
// =============================================================================

const usageText = `sessionguard - inactivity timeout for signed-in terminal sessions

Usage:
  sessionguard [flags] [command] [options]

Commands:
  tui              Run the portal (default)
  status           Show the shared last-activity record
  clear            Delete the shared last-activity record
  enroll           Generate a TOTP secret and save it to the config
      --account NAME   Account label for the authenticator app
      --force          Replace an existing secret
  version          Show version information
  help             Show this help

Flags:
  -c, --config PATH   Load configuration from PATH
      --store NAME    Store backend (memory, file, sqlite, redis, postgres)
      --json          Machine-readable output

Environment:
  SESSIONGUARD_TIMEOUT_SECS, SESSIONGUARD_WARNING_OFFSETS,
  SESSIONGUARD_STORE_BACKEND, SESSIONGUARD_REDIS_URL, SESSIONGUARD_POSTGRES_DSN,
  SESSIONGUARD_TOTP_SECRET (also read from .env)
`

// PrintUsage writes the usage text.
func PrintUsage(w io.Writer) {
	fmt.Fprint(w, usageText)
}

// HandleHelp prints usage to stdout.
func HandleHelp() {
	PrintUsage(os.Stdout)
}

// VersionData is the JSON form of the version command.
type VersionData struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// PrintVersion writes version information, as JSON when asJSON is set.
func PrintVersion(w io.Writer, asJSON bool) error {
	if asJSON {
		data := VersionData{
			Version:   Version,
			GitCommit: GitCommit,
			BuildDate: BuildDate,
			GoVersion: runtime.Version(),
			Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		}
		return NewJSONResponse("version", data).Print(w)
	}

	fmt.Fprintf(w, "sessionguard %s\n", Version)
	fmt.Fprintf(w, "  Commit:  %s\n", GitCommit)
	fmt.Fprintf(w, "  Built:   %s\n", BuildDate)
	fmt.Fprintf(w, "  Go:      %s\n", runtime.Version())
	fmt.Fprintf(w, "  OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	return nil
}

// HandleVersionWithJSON prints version information to stdout.
func HandleVersionWithJSON(asJSON bool) {
	if err := PrintVersion(os.Stdout, asJSON); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
}
