package logflags

import (
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var transfer = false
var features = false
var target = false
var regcache = false
var terminal = false

var logOut io.WriteCloser

func makeLogger(level logrus.Level, fields Fields) Logger {
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = textFormatterInstance
	if logOut != nil {
		logger.Logger.Out = logOut
	}
	logger.Logger.Level = level
	return &logrusLogger{logger}
}

func makeFlaggableLogger(flag bool, fields Fields) Logger {
	if !flag {
		return makeLogger(logrus.ErrorLevel, fields)
	}
	return makeLogger(logrus.DebugLevel, fields)
}

// Transfer returns true if register transfers should be logged.
func Transfer() bool {
	return transfer
}

// TransferLogger returns a logger for the register transfer engine.
func TransferLogger() Logger {
	return makeFlaggableLogger(transfer, Fields{"layer": "transfer"})
}

// Features returns true if host capability detection should be logged.
func Features() bool {
	return features
}

// FeaturesLogger returns a logger for the feature detector.
func FeaturesLogger() Logger {
	return makeFlaggableLogger(features, Fields{"layer": "features"})
}

// Target returns true if target setup (catalog sizing, descriptor
// selection) should be logged.
func Target() bool {
	return target
}

// TargetLogger returns a logger for the target package.
func TargetLogger() Logger {
	return makeFlaggableLogger(target, Fields{"layer": "target"})
}

// Regcache returns true if register cache fills and invalidations should
// be logged.
func Regcache() bool {
	return regcache
}

// RegcacheLogger returns a logger for the register cache.
func RegcacheLogger() Logger {
	return makeFlaggableLogger(regcache, Fields{"layer": "regcache"})
}

// Terminal returns true if the interactive shell should log.
func Terminal() bool {
	return terminal
}

// TerminalLogger returns a logger for the interactive shell.
func TerminalLogger() Logger {
	return makeFlaggableLogger(terminal, Fields{"layer": "terminal"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets the logging flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "vgregs-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %w", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "target"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		// If adding another value, do make sure to
		// update "Help about logging flags" in commands.go.
		switch logcmd {
		case "transfer":
			transfer = true
		case "features":
			features = true
		case "target":
			target = true
		case "regcache":
			regcache = true
		case "terminal":
			terminal = true
		default:
			fmt.Fprintf(os.Stderr, "Warning: unknown log output value %q, run 'vgregs help log' for usage.\n", logcmd)
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}

// DefaultFormatter provides a text formatter with the layer field promoted
// to the front of each line.
func DefaultFormatter() logrus.Formatter {
	return textFormatterInstance
}

var textFormatterInstance = &textFormatter{}

type textFormatter struct{}

func (f *textFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b strings.Builder
	b.WriteString(entry.Time.Format("2006-01-02T15:04:05Z07:00"))
	b.WriteByte(' ')
	b.WriteString(strings.ToLower(entry.Level.String()))
	if layer, ok := entry.Data["layer"]; ok {
		fmt.Fprintf(&b, " layer=%v", layer)
	}
	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		if k != "layer" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Data[k])
	}
	b.WriteByte(' ')
	b.WriteString(entry.Message)
	b.WriteByte('\n')
	return []byte(b.String()), nil
}
