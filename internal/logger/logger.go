// Package logger builds the service-wide structured logger.
package logger

import (
	"github.com/sirupsen/logrus"
)

// New returns an entry tagged with the service name. Level falls back to
// info when unparsable; format is "json" (default) or "text".
func New(level, format, service string) *logrus.Entry {
	l := logrus.New()
	lv, err := logrus.ParseLevel(level)
	if err != nil {
		lv = logrus.InfoLevel
	}
	l.SetLevel(lv)
	if format == "text" {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	return l.WithField("service", service)
}
