// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package timeutil provides thin wrappers around the time package, keeping
// the rest of the tree honest about which time source it consults.
package timeutil

import "time"

// Now returns the current UTC time.
//
// We've decided in times immemorial that it is useful to have all wall
// clock readings in the codebase share the UTC location.
func Now() time.Time {
	return time.Now().UTC()
}

// Since returns the time elapsed since t.
func Since(t time.Time) time.Duration {
	return Now().Sub(t)
}

// Until returns the duration until t.
func Until(t time.Time) time.Duration {
	return t.Sub(Now())
}
