// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package log

import (
	"time"

	"github.com/cockroachdb/kvcc/pkg/util/syncutil"
	"github.com/cockroachdb/kvcc/pkg/util/timeutil"
)

// EveryN provides a way to rate limit spammy log messages. It tracks how
// recently a given message has been emitted so that it can determine
// whether it's worth logging again.
type EveryN struct {
	// N is the minimum duration of time between log messages.
	N time.Duration

	syncutil.Mutex
	lastLogged time.Time
}

// Every is a convenience constructor for an EveryN object that allows a
// log message every n duration.
func Every(n time.Duration) EveryN {
	return EveryN{N: n}
}

// ShouldLog returns whether it's been more than N time since the last event.
func (e *EveryN) ShouldLog() bool {
	now := timeutil.Now()
	var shouldLog bool
	e.Lock()
	if now.Sub(e.lastLogged) >= e.N {
		shouldLog = true
		e.lastLogged = now
	}
	e.Unlock()
	return shouldLog
}
