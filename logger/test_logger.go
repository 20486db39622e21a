// SPDX-License-Identifier: LGPL-3.0-or-later

package logger

import (
	"fmt"
	"strings"
)

// TestLogger routes Logger output through testing.T/B's Logf instead of
// stderr, so a test that uses it gets log lines attributed to the
// failing subtest rather than interleaved on the console.
type TestLogger struct {
	t interface {
		Logf(format string, args ...interface{})
	}
}

// NewTestLogger wraps t (anything with a Logf method, i.e. *testing.T or
// *testing.B) as a Logger.
func NewTestLogger(t interface {
	Logf(format string, args ...interface{})
}) Logger {
	return &TestLogger{t: t}
}

func (l *TestLogger) format(level, msg string, keysAndValues ...interface{}) string {
	prefix := fmt.Sprintf("[%s] %s", level, msg)

	if len(keysAndValues) > 0 {
		var pairs []string
		for i := 0; i < len(keysAndValues); i += 2 {
			if i+1 < len(keysAndValues) {
				pairs = append(pairs, fmt.Sprintf("%v=%v", keysAndValues[i], keysAndValues[i+1]))
			}
		}
		if len(pairs) > 0 {
			prefix = fmt.Sprintf("%s | %s", prefix, strings.Join(pairs, ", "))
		}
	}

	return prefix
}

func (l *TestLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.t.Logf("%s", l.format("DEBUG", msg, keysAndValues...))
}

func (l *TestLogger) Info(msg string, keysAndValues ...interface{}) {
	l.t.Logf("%s", l.format("INFO", msg, keysAndValues...))
}

func (l *TestLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.t.Logf("%s", l.format("WARN", msg, keysAndValues...))
}

func (l *TestLogger) Error(msg string, keysAndValues ...interface{}) {
	l.t.Logf("%s", l.format("ERROR", msg, keysAndValues...))
}
