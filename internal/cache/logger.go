package cache

import (
	"io"

	"github.com/sirupsen/logrus"
)

func loggerOrDiscard(logger *logrus.Logger) *logrus.Logger {
	if logger != nil {
		return logger
	}
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	return discard
}
