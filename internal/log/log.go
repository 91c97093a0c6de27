// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package log owns the logging backend and the subsystem loggers of the
// electrumx packages.
package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/btcsuite/btclog"
	"github.com/btcsuite/electrumx/cache"
	"github.com/btcsuite/electrumx/electrumx"
	"github.com/btcsuite/electrumx/rpcclient"
	"github.com/btcsuite/electrumx/session"
	"github.com/btcsuite/electrumx/subscription"
	"github.com/btcsuite/electrumx/transport"
	"github.com/jrick/logrotate/rotator"
)

// logWriter implements an io.Writer that outputs to standard error and, once
// initialized, the log rotator.  Standard output is left to command results.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stderr.Write(p)

	rotatorMtx.Lock()
	r := logRotator
	rotatorMtx.Unlock()
	if r != nil {
		r.Write(p)
	}
	return len(p), nil
}

// Loggers per subsystem.  A single backend logger is created and all
// subsystem loggers created from it write to the backend.  When adding new
// subsystems, add the subsystem logger variable here and to the
// subsystemLoggers map.
var (
	backendLog = btclog.NewBackend(logWriter{})

	rotatorMtx sync.Mutex
	logRotator *rotator.Rotator

	trnsLog = backendLog.Logger("TRNS")
	rpccLog = backendLog.Logger("RPCC")
	sessLog = backendLog.Logger("SESS")
	subsLog = backendLog.Logger("SUBS")
	exapLog = backendLog.Logger("EXAP")
	cachLog = backendLog.Logger("CACH")

	// CtlLog is the logger of the command line tool.
	CtlLog = backendLog.Logger("ECTL")
)

// Initialize package-global logger variables.
func init() {
	transport.UseLogger(trnsLog)
	rpcclient.UseLogger(rpccLog)
	session.UseLogger(sessLog)
	subscription.UseLogger(subsLog)
	electrumx.UseLogger(exapLog)
	cache.UseLogger(cachLog)
}

// subsystemLoggers maps each subsystem identifier to its associated logger.
var subsystemLoggers = map[string]btclog.Logger{
	"TRNS": trnsLog,
	"RPCC": rpccLog,
	"SESS": sessLog,
	"SUBS": subsLog,
	"EXAP": exapLog,
	"CACH": cachLog,
	"ECTL": CtlLog,
}

// Writer returns the writer shared by every subsystem logger.
func Writer() io.Writer {
	return logWriter{}
}

// InitLogRotator makes the loggers also write to logFile, rolling it over
// into compressed files in the same directory.
func InitLogRotator(logFile string) error {
	logDir, _ := filepath.Split(logFile)
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0700); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}

	rotatorMtx.Lock()
	logRotator = r
	rotatorMtx.Unlock()
	return nil
}

// CloseLogRotator flushes and closes the log file, if any.
func CloseLogRotator() {
	rotatorMtx.Lock()
	r := logRotator
	logRotator = nil
	rotatorMtx.Unlock()

	if r != nil {
		r.Close()
	}
}

// SupportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func SupportedSubsystems() []string {
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}
	sort.Strings(subsystems)
	return subsystems
}

// SetLogLevel sets the logging level for provided subsystem.  Invalid
// subsystems are ignored.
func SetLogLevel(subsystemID string, logLevel string) {
	logger, ok := subsystemLoggers[subsystemID]
	if !ok {
		return
	}

	// Defaults to info if the log level is invalid.
	level, _ := btclog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// SetLogLevels sets the log level for all subsystem loggers to the passed
// level.
func SetLogLevels(logLevel string) {
	for subsystemID := range subsystemLoggers {
		SetLogLevel(subsystemID, logLevel)
	}
}

// Level returns the current level of subsystemID.
func Level(subsystemID string) (btclog.Level, bool) {
	logger, ok := subsystemLoggers[subsystemID]
	if !ok {
		return btclog.LevelOff, false
	}
	return logger.Level(), true
}
