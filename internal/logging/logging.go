package logging

import (
	"github.com/sirupsen/logrus"
)

// Setup configures the global logrus logger. Level falls back to info
// on an unparseable value so a bad env var never silences the server.
func Setup(level string) {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
}
