// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package log provides leveled, context-tagged logging. Call sites attach
// structured tags to their context via logtags; every message rendered here
// carries those tags as a bracketed prefix, so a log line produced deep in
// the storage layer still identifies its range and transaction.
package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/logtags"
	"github.com/cockroachdb/redact"

	"github.com/cockroachdb/kvcc/pkg/util/syncutil"
)

// Severity identifies the importance of a log entry.
type Severity int

// Severity levels, in increasing order of importance.
const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityFatal
)

var severityChar = [...]byte{'I', 'W', 'E', 'F'}

var logging struct {
	mu   syncutil.Mutex
	w    io.Writer
	vl   int32 // verbosity for VEventf, accessed atomically
	exit func(int)
}

func init() {
	logging.w = os.Stderr
	logging.exit = os.Exit
}

// SetOutput redirects log output, returning the previous writer. Intended
// for tests.
func SetOutput(w io.Writer) io.Writer {
	logging.mu.Lock()
	defer logging.mu.Unlock()
	prev := logging.w
	logging.w = w
	return prev
}

// SetVerbosity sets the verbosity threshold consulted by VEventf.
func SetVerbosity(level int) {
	atomic.StoreInt32(&logging.vl, int32(level))
}

// V returns whether verbosity at the given level is enabled.
func V(level int) bool {
	return atomic.LoadInt32(&logging.vl) >= int32(level)
}

func output(ctx context.Context, sev Severity, depth int, format string, args ...interface{}) {
	_, file, line, ok := runtime.Caller(depth + 2)
	if !ok {
		file, line = "???", 0
	} else if idx := strings.LastIndexByte(file, '/'); idx >= 0 {
		file = file[idx+1:]
	}

	var buf strings.Builder
	buf.WriteByte(severityChar[sev])
	buf.WriteString(time.Now().UTC().Format("060102 15:04:05.000000"))
	fmt.Fprintf(&buf, " %s:%d ", file, line)
	if tags := logtags.FromContext(ctx); tags != nil {
		buf.WriteByte('[')
		buf.WriteString(tags.String())
		buf.WriteString("] ")
	}
	buf.WriteString(redact.Sprintf(format, args...).StripMarkers())
	buf.WriteByte('\n')

	logging.mu.Lock()
	defer logging.mu.Unlock()
	fmt.Fprint(logging.w, buf.String())
	if sev == SeverityFatal {
		logging.exit(255)
	}
}

// Infof logs to the INFO level.
func Infof(ctx context.Context, format string, args ...interface{}) {
	output(ctx, SeverityInfo, 1, format, args...)
}

// Warningf logs to the WARNING level.
func Warningf(ctx context.Context, format string, args ...interface{}) {
	output(ctx, SeverityWarning, 1, format, args...)
}

// Errorf logs to the ERROR level.
func Errorf(ctx context.Context, format string, args ...interface{}) {
	output(ctx, SeverityError, 1, format, args...)
}

// Fatalf logs to the FATAL level and terminates the process. Reserved for
// invariant violations from which the node cannot safely continue, such as
// clock divergence beyond the configured maximum offset.
func Fatalf(ctx context.Context, format string, args ...interface{}) {
	output(ctx, SeverityFatal, 1, format, args...)
}

// VEventf logs to the INFO level when the given verbosity is enabled.
func VEventf(ctx context.Context, level int, format string, args ...interface{}) {
	if V(level) {
		output(ctx, SeverityInfo, 1, format, args...)
	}
}
