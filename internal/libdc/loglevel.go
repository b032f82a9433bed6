package libdc

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// LogLevel mirrors dc_loglevel_t.
type LogLevel int

const (
	LogNone LogLevel = iota
	LogError
	LogWarning
	LogInfo
	LogDebug
	LogAll
)

func (l LogLevel) String() string {
	switch l {
	case LogNone:
		return "none"
	case LogError:
		return "error"
	case LogWarning:
		return "warning"
	case LogInfo:
		return "info"
	case LogDebug:
		return "debug"
	case LogAll:
		return "all"
	}
	return fmt.Sprintf("loglevel(%d)", int(l))
}

// ParseLogLevel accepts the names produced by String.
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "":
		return LogNone, nil
	case "error":
		return LogError, nil
	case "warning", "warn":
		return LogWarning, nil
	case "info":
		return LogInfo, nil
	case "debug":
		return LogDebug, nil
	case "all":
		return LogAll, nil
	}
	return LogNone, fmt.Errorf("invalid native log level %q", s)
}

// Logrus maps a native level onto logrus. LogAll lands on Trace.
func (l LogLevel) Logrus() logrus.Level {
	switch l {
	case LogError:
		return logrus.ErrorLevel
	case LogWarning:
		return logrus.WarnLevel
	case LogInfo:
		return logrus.InfoLevel
	case LogDebug:
		return logrus.DebugLevel
	case LogAll:
		return logrus.TraceLevel
	}
	return logrus.PanicLevel
}

// LogRecord is one message emitted by the native engine.
type LogRecord struct {
	Level    LogLevel
	File     string
	Line     uint
	Function string
	Message  string
}

// Forward writes a native log record to logger at the mapped level.
func Forward(logger *logrus.Logger, rec LogRecord) {
	if logger == nil || rec.Level == LogNone {
		return
	}
	logger.WithFields(logrus.Fields{
		"component": "libdivecomputer",
		"file":      rec.File,
		"line":      rec.Line,
		"function":  rec.Function,
	}).Log(rec.Level.Logrus(), strings.TrimRight(rec.Message, "\n"))
}
