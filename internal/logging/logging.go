// Package logging centralizes structured logging for the engine on top
// of sirupsen/logrus: every package gets a component-tagged
// logrus.Entry instead of formatting its own message prefixes.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

var root = logrus.New()

func init() {
	root.SetOutput(os.Stderr)
	root.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl := os.Getenv("MERGERFS_LOG_LEVEL"); lvl != "" {
		if parsed, err := logrus.ParseLevel(lvl); err == nil {
			root.SetLevel(parsed)
		}
	}
}

// For returns a component-scoped logger; the component name is attached
// as a structured field rather than a formatted message prefix.
func For(component string) *logrus.Entry {
	return root.WithField("component", component)
}

// SetLevel overrides the root logger's level (wired from the CLI's
// --log-level flag in cmd/mergerfsd).
func SetLevel(lvl logrus.Level) {
	root.SetLevel(lvl)
}
