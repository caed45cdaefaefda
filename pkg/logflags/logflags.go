// Package logflags routes the optional diagnostic logging of the stack
// walking library. Every component checks its own flag; with no flag
// set all loggers are created at error level, so embedding programs pay
// nothing for logging they did not ask for.
package logflags

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var walker = false
var decoder = false
var shlib = false

var logOut io.WriteCloser

func makeLogger(level logrus.Level, fields Fields) Logger {
	if loggerFactory != nil {
		return loggerFactory(level, fields, logOut)
	}
	logger := logrus.New()
	logger.Formatter = textFormatterInstance
	if logOut != nil {
		logger.Out = logOut
	} else {
		logger.Out = os.Stderr
	}
	logger.Level = level
	return &logrusLogger{logger.WithFields(logrus.Fields(fields))}
}

func makeFlaggableLogger(flag bool, fields Fields) Logger {
	if flag {
		return makeLogger(logrus.DebugLevel, fields)
	}
	return makeLogger(logrus.ErrorLevel, fields)
}

// Any returns true if any logging is enabled.
func Any() bool {
	return walker || decoder || shlib
}

// Walker returns true if the walker should log each unwind step.
func Walker() bool {
	return walker
}

// WalkerLogger returns a logger for the walker.
func WalkerLogger() Logger {
	return makeFlaggableLogger(walker, Fields{"layer": "walker"})
}

// Decoder returns true if call-frame-info decoding should be logged.
func Decoder() bool {
	return decoder
}

// DecoderLogger returns a logger for the call-frame-info decoder.
func DecoderLogger() Logger {
	return makeFlaggableLogger(decoder, Fields{"layer": "decoder"})
}

// Shlib returns true if loaded image enumeration should be logged.
func Shlib() bool {
	return shlib
}

// ShlibLogger returns a logger for the loaded image enumerator.
func ShlibLogger() Logger {
	return makeFlaggableLogger(shlib, Fields{"layer": "shlib"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets the component flags based on the contents of logstr, a
// comma separated list of component names. logDest, when non-empty,
// redirects the output: a number is treated as an already open file
// descriptor, anything else as a file path to create.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "log-output")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log output file %s: %v", logDest, err)
			}
			logOut = fh
		}
	}
	if !logFlag {
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "walker"
	}
	for _, logcmd := range strings.Split(logstr, ",") {
		switch logcmd {
		case "walker":
			walker = true
		case "decoder":
			decoder = true
		case "shlib":
			shlib = true
		default:
			return fmt.Errorf("invalid log component %q", logcmd)
		}
	}
	return nil
}

// Close closes the redirected log output, if any.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}
