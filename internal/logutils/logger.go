package logutils

import (
	"github.com/sirupsen/logrus"
)

// Log is the logger shared by every package.
var Log = logrus.New()

// Fields is the type of logrus.Fields.
type Fields = logrus.Fields

//nolint:gochecknoinits // the single place where the default level and formatter are set.
func init() {
	Log.SetLevel(logrus.InfoLevel)
	Log.SetFormatter(&logrus.TextFormatter{
		TimestampFormat:           "2006-01-02 15:04:05",
		EnvironmentOverrideColors: true,
		FullTimestamp:             true,
	})
}

// SetLevel applies a level name such as "debug" or "warn". Unknown names
// leave the current level in place and are reported.
func SetLevel(name string) {
	if name == "" {
		return
	}
	lvl, err := logrus.ParseLevel(name)
	if err != nil {
		Log.WithField("level", name).Warn("unknown log level, keeping ", Log.GetLevel())
		return
	}
	Log.SetLevel(lvl)
}
