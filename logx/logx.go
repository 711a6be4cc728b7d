package logx

import (
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
)

const (
	defaultLogFile     = "./logs/mmnchain.log"
	defaultMaxSizeMB   = 500
	defaultMaxAgeDays  = 7
	envLogFile         = "LOGFILE"
	envLogMaxSizeMB    = "LOGFILE_MAX_SIZE_MB"
	envLogMaxAgeDays   = "LOGFILE_MAX_AGE_DAYS"
	envLogMirrorStdout = "LOG_STDOUT"
)

var (
	lumberjackLogger = &lumberjack.Logger{
		Filename: getLogFilename(),
		MaxSize:  getEnvInt(envLogMaxSizeMB, defaultMaxSizeMB),   // megabytes
		MaxAge:   getEnvInt(envLogMaxAgeDays, defaultMaxAgeDays), // days
	}

	logger = log.New(newWriter(), "", log.Ldate|log.Ltime|log.Lmicroseconds)
)

func getLogFilename() string {
	if logFile := os.Getenv(envLogFile); logFile != "" {
		return "./logs/" + logFile
	}
	return defaultLogFile
}

// getEnvInt falls back to def when the variable is unset or malformed.
func getEnvInt(name string, def int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		fmt.Fprintf(os.Stderr, "invalid value for %s (%q), using %d\n", name, raw, def)
		return def
	}
	return v
}

func newWriter() io.Writer {
	if os.Getenv(envLogMirrorStdout) == "1" {
		return io.MultiWriter(lumberjackLogger, os.Stdout)
	}
	return lumberjackLogger
}

// MirrorToStdout makes every subsequent log line also go to stdout.
func MirrorToStdout() {
	logger.SetOutput(io.MultiWriter(lumberjackLogger, os.Stdout))
}

// SetOutput redirects logging, mostly for tests.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

func Info(category string, content ...interface{}) {
	message := fmt.Sprint(content...)
	coloredCategory := fmt.Sprintf("%s[INFO][%s]%s", ColorGreen, category, ColorReset)
	logger.Printf("%s: %s", coloredCategory, message)
}

func Error(category string, content ...interface{}) {
	message := fmt.Sprint(content...)
	coloredCategory := fmt.Sprintf("%s[ERROR][%s]%s", ColorRed, category, ColorReset)
	logger.Printf("%s: %s", coloredCategory, message)
}

func Warn(category string, content ...interface{}) {
	message := fmt.Sprint(content...)
	coloredCategory := fmt.Sprintf("%s[WARN][%s]%s", ColorYellow, category, ColorReset)
	logger.Printf("%s: %s", coloredCategory, message)
}

func Debug(category string, content ...interface{}) {
	message := fmt.Sprint(content...)
	coloredCategory := fmt.Sprintf("%s[DEBUG][%s]%s", ColorBlue, category, ColorReset)
	logger.Printf("%s: %s", coloredCategory, message)
}

// Errorf logs an error message and returns a formatted error
func Errorf(format string, args ...interface{}) error {
	err := fmt.Errorf(format, args...)
	Error("ERROR", err.Error())
	return err
}
