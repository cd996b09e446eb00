// Package logrus adapts a *logrus.Entry to the stashkv Logger interface.
package logrus

import (
	"github.com/sirupsen/logrus"
	"github.com/unkn0wn-root/stashkv"
)

type LogrusLogger struct{ E *logrus.Entry }

var _ stashkv.Logger = LogrusLogger{}

func (l LogrusLogger) Debug(msg string, f stashkv.Fields) {
	l.E.WithFields(logrus.Fields(f)).Debug(msg)
}
func (l LogrusLogger) Info(msg string, f stashkv.Fields) { l.E.WithFields(logrus.Fields(f)).Info(msg) }
func (l LogrusLogger) Warn(msg string, f stashkv.Fields) { l.E.WithFields(logrus.Fields(f)).Warn(msg) }
func (l LogrusLogger) Error(msg string, f stashkv.Fields) {
	l.E.WithFields(logrus.Fields(f)).Error(msg)
}
