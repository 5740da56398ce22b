// Package logging routes pipeline log output to stderr or, when configured,
// a rotating log file.
package logging

import (
	"fmt"
	"log"
	"os"

	"github.com/natefinch/lumberjack"
)

// Config selects the log destination. An empty Logfile keeps log messages
// on stderr.
type Config struct {
	Logfile string
	MaxSize int // megabytes a log file may reach before rotation
	MaxAge  int // days rotated files are kept
}

var logfile *lumberjack.Logger

// Setup redirects the standard logger to a rotating log file. Progress
// output on stdout is unaffected, so interactive runs stay readable while
// the file keeps the full record.
func (c Config) Setup() {
	if c.Logfile == "" {
		Infof("Sending log messages to stderr since no log file specified.")
		return
	}
	fmt.Printf("Sending log messages to: %s\n", c.Logfile)
	logfile = &lumberjack.Logger{
		Filename: c.Logfile,
		MaxSize:  c.MaxSize, // megabytes
		MaxAge:   c.MaxAge,  // days
	}
	log.SetOutput(logfile)
}

// Shutdown closes the rotating log file, if one was configured, and puts
// the standard logger back on stderr.
func Shutdown() {
	if logfile != nil {
		logfile.Close()
		logfile = nil
		log.SetOutput(os.Stderr)
	}
}

// Infof formats its arguments analogous to fmt.Printf and records the text
// as a log message at INFO level.
func Infof(format string, args ...interface{}) {
	log.Printf(" INFO "+format, args...)
}

// Warningf is like Infof, but at WARNING level.
func Warningf(format string, args ...interface{}) {
	log.Printf(" WARNING "+format, args...)
}

// Errorf is like Infof, but at ERROR level.
func Errorf(format string, args ...interface{}) {
	log.Printf(" ERROR "+format, args...)
}
