// Package bplog centralizes logger construction so every component of
// the coordination spine (device manager, client loop, drivers) logs
// through the same leveled backend.
package bplog

import (
	stdlog "log"
	"log/syslog"
	"os"
	"runtime/debug"

	"github.com/op/go-logging"
)

var syslogFormat = logging.MustStringFormatter(
	`%{time:15:04:05.000} %{level:.6s} ▶ %{message}`,
)
var stderrFormat = logging.MustStringFormatter(
	`%{color}buttplug ▶ %{message}%{color:reset}`,
)

// New builds a leveled logger for prefix, preferring syslog and falling
// back to stderr. The level can be overridden with BUTTPLUG_LOG_LEVEL.
func New(prefix string, defaultLevel logging.Level) *logging.Logger {
	log := logging.MustGetLogger(prefix)

	var backend logging.Backend
	if sysBackend, err := logging.NewSyslogBackendPriority(prefix, syslog.LOG_NOTICE); err == nil {
		backend = sysBackend
		logging.SetFormatter(syslogFormat)
		if sb, ok := backend.(*logging.SyslogBackend); ok {
			stdlog.SetOutput(sb.Writer)
		}
	}
	if backend == nil {
		backend = logging.NewLogBackend(os.Stderr, prefix, 0)
		logging.SetFormatter(stderrFormat)
	}

	leveled := logging.AddModuleLevel(backend)
	switch os.Getenv("BUTTPLUG_LOG_LEVEL") {
	case "CRITICAL":
		leveled.SetLevel(logging.CRITICAL, prefix)
	case "ERROR":
		leveled.SetLevel(logging.ERROR, prefix)
	case "WARNING":
		leveled.SetLevel(logging.WARNING, prefix)
	case "NOTICE":
		leveled.SetLevel(logging.NOTICE, prefix)
	case "INFO":
		leveled.SetLevel(logging.INFO, prefix)
	case "DEBUG":
		leveled.SetLevel(logging.DEBUG, prefix)
	default:
		leveled.SetLevel(defaultLevel, prefix)
	}

	logging.SetBackend(leveled)
	return log
}

// RecoverToLog runs f, logging (not panicking on) any recovered panic.
// Used to guard the short-lived tasks the event loops spawn so that one
// misbehaving identification or forwarding task cannot take the loop
// down with it.
func RecoverToLog(f func(), log *logging.Logger) {
	defer func() {
		if x := recover(); x != nil {
			if log != nil {
				log.Errorf("run time panic: %v", x)
				log.Error(string(debug.Stack()))
			}
		}
	}()
	f()
}
