// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package audit records session lifecycle events as JSON lines.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// DefaultMaxFileSize is the default max file size before rotation (10MB).
const DefaultMaxFileSize int64 = 10 * 1024 * 1024

// Event types emitted by the session coordinator.
const (
	EventTrackingStarted = "SESSION_TRACKING_STARTED"
	EventTrackingStopped = "SESSION_TRACKING_STOPPED"
	EventActivity        = "SESSION_ACTIVITY"
	EventWarning         = "SESSION_WARNING"
	EventExtended        = "SESSION_EXTENDED"
	EventTimeout         = "SESSION_TIMEOUT"
	EventSignOutFailed   = "SESSION_SIGNOUT_FAILED"
	EventSignedOut       = "SESSION_SIGNED_OUT"
	EventSignIn          = "SESSION_SIGNIN"
	EventSignInFailed    = "SESSION_SIGNIN_FAILED"
)

// =============================================================================
// EVENT
// =============================================================================

// Event is a single audit log entry.
type Event struct {
	Timestamp  time.Time         `json:"timestamp"`
	EventType  string            `json:"event_type"`
	InstanceID string            `json:"instance_id"`
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ToJSON formats the event as JSON.
func (e *Event) ToJSON() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// =============================================================================
// REDACTION
// =============================================================================

var secretPatterns = []struct {
	pattern *regexp.Regexp
	replace string
}{
	{regexp.MustCompile(`otpauth://\S+`), "[OTPAUTH_URL_REDACTED]"},
	{regexp.MustCompile(`Bearer\s+[a-zA-Z0-9\-_.]+`), "Bearer [TOKEN_REDACTED]"},
	{regexp.MustCompile(`(?i)(password|passwd|secret)\s*[=:]\s*\S+`), "[SECRET_REDACTED]"},
	{regexp.MustCompile(`(postgres(?:ql)?|redis)://[^:/@\s]+:[^@\s]+@`), "$1://[CREDENTIALS_REDACTED]@"},
}

// Redact replaces credentials and enrolment URLs in input.
func Redact(input string) string {
	for _, sp := range secretPatterns {
		input = sp.pattern.ReplaceAllString(input, sp.replace)
	}
	return input
}

// =============================================================================
// LOGGER
// =============================================================================

// Logger appends events to a file, one JSON object per line. A nil *Logger
// discards everything, so callers never need to check whether auditing is on.
type Logger struct {
	path    string
	file    *os.File
	mu      sync.Mutex
	maxSize int64
	now     func() time.Time
}

// New opens (or creates) the audit log at path.
func New(path string) (*Logger, error) {
	if path == "" {
		path = DefaultPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	return &Logger{
		path:    path,
		file:    file,
		maxSize: DefaultMaxFileSize,
		now:     time.Now,
	}, nil
}

// DefaultPath returns ~/.sessionguard/audit.log.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".sessionguard", "audit.log")
}

// Log writes an event, filling in the timestamp when unset.
func (l *Logger) Log(event Event) error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now()
	}
	if event.Error != "" {
		event.Error = Redact(event.Error)
	}
	for k, v := range event.Metadata {
		event.Metadata[k] = Redact(v)
	}

	if err := l.checkRotationLocked(); err != nil {
		return fmt.Errorf("audit rotation failed: %w", err)
	}

	line, err := event.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to encode audit event: %w", err)
	}
	if _, err := fmt.Fprintln(l.file, line); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// LogEvent records a successful event.
func (l *Logger) LogEvent(instanceID, eventType string, metadata map[string]string) error {
	return l.Log(Event{
		EventType:  eventType,
		InstanceID: instanceID,
		Success:    true,
		Metadata:   metadata,
	})
}

// LogFailure records a failed event with its error.
func (l *Logger) LogFailure(instanceID, eventType string, err error, metadata map[string]string) error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return l.Log(Event{
		EventType:  eventType,
		InstanceID: instanceID,
		Success:    false,
		Error:      msg,
		Metadata:   metadata,
	})
}

// =============================================================================
// ROTATION
// =============================================================================

// Rotate renames the current file with a timestamp suffix and starts a new one.
func (l *Logger) Rotate() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rotateLocked()
}

func (l *Logger) rotateLocked() error {
	if l.file == nil {
		return nil
	}

	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close audit log for rotation: %w", err)
	}

	timestamp := l.now().Format("20060102_150405.000000000")
	ext := filepath.Ext(l.path)
	base := strings.TrimSuffix(l.path, ext)
	rotatedPath := fmt.Sprintf("%s_%s%s", base, timestamp, ext)

	if err := os.Rename(l.path, rotatedPath); err != nil {
		l.file, _ = os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		return fmt.Errorf("failed to rotate audit log: %w", err)
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		l.file = nil
		return fmt.Errorf("failed to create new audit log after rotation: %w", err)
	}
	l.file = file
	return nil
}

func (l *Logger) checkRotationLocked() error {
	if l.maxSize <= 0 {
		return nil
	}
	info, err := l.file.Stat()
	if err != nil {
		return err
	}
	if info.Size() >= l.maxSize {
		return l.rotateLocked()
	}
	return nil
}

// SetMaxSize sets the size that triggers rotation. Zero disables rotation.
func (l *Logger) SetMaxSize(size int64) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maxSize = size
}

// Path returns the log file path.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Close flushes and closes the log file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	syncErr := l.file.Sync()
	closeErr := l.file.Close()
	l.file = nil
	if syncErr != nil {
		return syncErr
	}
	return closeErr
}
