// Package logging provides the process-wide structured logger used
// across the core. It wraps logrus rather than hand-rolling a level/
// field abstraction over the standard library's log package.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	once sync.Once
	root *logrus.Logger
)

// Fields is a shorthand for logrus.Fields, kept so callers don't need to
// import logrus directly just to log a line.
type Fields = logrus.Fields

// Logger is the subset of *logrus.Entry callers depend on.
type Logger = *logrus.Entry

// Init configures the root logger. Safe to call once at process
// startup; subsequent calls are no-ops. level is one of logrus's level
// strings ("debug", "info", "warn", "error").
func Init(level string) {
	once.Do(func() {
		root = logrus.New()
		root.SetOutput(os.Stderr)
		if lvl, err := logrus.ParseLevel(level); err == nil {
			root.SetLevel(lvl)
		} else {
			root.SetLevel(logrus.InfoLevel)
		}
		if os.Getenv("DOGMA_LOG_PRETTY") != "" {
			root.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		} else {
			root.SetFormatter(&logrus.JSONFormatter{})
		}
	})
}

// SetOutput redirects the root logger; used by tests to capture output.
func SetOutput(w io.Writer) {
	ensureInit()
	root.SetOutput(w)
}

func ensureInit() {
	if root == nil {
		Init("info")
	}
}

// For returns a Logger scoped to a component name, e.g. For("repository").
func For(component string) Logger {
	ensureInit()
	return root.WithField("component", component)
}

// WithRepo scopes a Logger to a project/repository pair, the two fields
// almost every core log line carries.
func WithRepo(l Logger, project, repository string) Logger {
	return l.WithFields(Fields{"project": project, "repository": repository})
}
