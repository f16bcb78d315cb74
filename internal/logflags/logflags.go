// Package logflags controls the per-subsystem loggers of the unwinder.
// Every subsystem is silent (PanicLevel) unless explicitly enabled
// through Setup, so embedding this library never produces surprise
// output on stderr.
package logflags

import (
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
)

var unwind = false
var cfi = false
var elfreader = false
var jitdebug = false
var memory = false

func makeLogger(flag bool, fields logrus.Fields) *logrus.Entry {
	logger := logrus.New().WithFields(fields)
	logger.Logger.Level = logrus.DebugLevel
	if !flag {
		logger.Logger.Level = logrus.PanicLevel
	}
	return logger
}

// Unwind returns true if the driver loop should log each step.
func Unwind() bool { return unwind }

// UnwindLogger returns a configured logger for the driver loop.
func UnwindLogger() *logrus.Entry {
	return makeLogger(unwind, logrus.Fields{"layer": "unwinder"})
}

// CFI returns true if frame-table parsing/evaluation should log.
func CFI() bool { return cfi }

// CFILogger returns a configured logger for the dwarf/frame package.
func CFILogger() *logrus.Entry {
	return makeLogger(cfi, logrus.Fields{"layer": "cfi"})
}

// ELFReader returns true if the elf package should log.
func ELFReader() bool { return elfreader }

// ELFReaderLogger returns a configured logger for the elf package.
func ELFReaderLogger() *logrus.Entry {
	return makeLogger(elfreader, logrus.Fields{"layer": "elfreader"})
}

// JitDebug returns true if the JIT/DEX catalog should log.
func JitDebug() bool { return jitdebug }

// JitDebugLogger returns a configured logger for the jitdebug package.
func JitDebugLogger() *logrus.Entry {
	return makeLogger(jitdebug, logrus.Fields{"layer": "jitdebug"})
}

// Memory returns true if the memory oracle family should log.
func Memory() bool { return memory }

// MemoryLogger returns a configured logger for the memory package.
func MemoryLogger() *logrus.Entry {
	return makeLogger(memory, logrus.Fields{"layer": "memory"})
}

var errLogstrWithoutLog = errors.New("log spec given without enabling logging")

// Setup enables logging for the comma-separated set of subsystem
// names in spec ("unwind", "cfi", "elfreader", "jitdebug", "memory").
// If enabled is false, spec must be empty.
func Setup(enabled bool, spec string) error {
	if !enabled {
		if spec != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if spec == "" {
		spec = "unwind"
	}
	for _, name := range strings.Split(spec, ",") {
		switch strings.TrimSpace(name) {
		case "unwind":
			unwind = true
		case "cfi":
			cfi = true
		case "elfreader":
			elfreader = true
		case "jitdebug":
			jitdebug = true
		case "memory":
			memory = true
		}
	}
	return nil
}
