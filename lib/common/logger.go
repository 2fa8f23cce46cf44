package common

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/lni/dragonboat/v4/logger"
)

// --------------------------------------------------------------------------
// Package Logger
// --------------------------------------------------------------------------

// fcacheLogger is the logger behind logger.GetLogger for the cache, fstore,
// lockmgr and cmd packages. Every line names the package it came from, so a
// lock wait reported by lockmgr can be told apart from the decode warning
// the engine logs for the same key.
type fcacheLogger struct {
	name   string
	level  logger.LogLevel
	logger *log.Logger
}

func (l *fcacheLogger) SetLevel(level logger.LogLevel) {
	l.level = level
}

func (l *fcacheLogger) Debugf(format string, args ...interface{}) {
	if l.level >= logger.DEBUG {
		l.log("DEBUG", format, args...)
	}
}

func (l *fcacheLogger) Infof(format string, args ...interface{}) {
	if l.level >= logger.INFO {
		l.log("INFO", format, args...)
	}
}

func (l *fcacheLogger) Warningf(format string, args ...interface{}) {
	if l.level >= logger.WARNING {
		l.log("WARN", format, args...)
	}
}

func (l *fcacheLogger) Errorf(format string, args ...interface{}) {
	if l.level >= logger.ERROR {
		l.log("ERROR", format, args...)
	}
}

func (l *fcacheLogger) Panicf(format string, args ...interface{}) {
	if l.level >= logger.CRITICAL {
		panic(fmt.Sprintf(format, args...))
	}
}

// log writes one line as "<date> <time> LEVEL | pkg      | message".
func (l *fcacheLogger) log(levelStr string, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	l.logger.Printf("%-5s | %-8s | %s", levelStr, l.name, message)
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

// logOutput receives the lines of every package logger. It is stderr so that
// the get and set commands keep stdout for their results.
var logOutput io.Writer = os.Stderr

// CreateLogger is the logger.Factory installed by InitLoggers. New loggers
// start at INFO until InitLoggers sets the configured level.
func CreateLogger(pkgName string) logger.ILogger {
	return &fcacheLogger{
		name:   pkgName,
		level:  logger.INFO,
		logger: log.New(logOutput, "", log.Ldate|log.Ltime),
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// ParseLogLevel maps the --log-level flag to a logger.LogLevel. An empty
// value means info.
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG, nil
	case "info", "":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return logger.INFO, fmt.Errorf("invalid log level: %s. must be one of debug, info, warn, error", level)
	}
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

// Packages names the loggers of fcache: the cache engine, the file store,
// the lock manager and the command line tool.
var Packages = []string{"cache", "fstore", "lockmgr", "cmd"}

var factoryOnce sync.Once

// InitLoggers installs CreateLogger once and sets level on every logger in
// Packages. Later calls only change the level.
func InitLoggers(level string) error {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return err
	}

	factoryOnce.Do(func() {
		logger.SetLoggerFactory(CreateLogger)
	})

	for _, pkg := range Packages {
		logger.GetLogger(pkg).SetLevel(lvl)
	}
	return nil
}
