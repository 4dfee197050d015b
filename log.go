package h264bridge

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

var logger atomic.Pointer[logrus.FieldLogger]

func init() {
	SetLogger(nil)
}

// SetLogger replaces the logger used by the bridge. A nil logger restores the
// logrus standard logger.
func SetLogger(l logrus.FieldLogger) {
	if l == nil {
		l = logrus.StandardLogger()
	}
	l = l.WithField("component", "h264bridge")
	logger.Store(&l)
}

func log() logrus.FieldLogger {
	return *logger.Load()
}
