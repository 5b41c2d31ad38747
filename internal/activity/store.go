// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package activity

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// DefaultKey is the shared-record key holding the last activity time.
const DefaultKey = "sessionguard.lastActivity"

// Store is a key/value medium shared by every running instance of a profile.
//
// Watch must only report changes written by other instances, never the
// caller's own writes. A deleted key is reported with ok == false.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Watch(key string, fn func(value string, ok bool)) (stop func(), err error)
}

// EncodeTimestamp renders t as Unix milliseconds.
func EncodeTimestamp(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// DecodeTimestamp parses a value written by EncodeTimestamp. Anything that is
// not a positive integer is reported as absent. The result is in UTC.
func DecodeTimestamp(value string) (time.Time, bool) {
	ms, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}
