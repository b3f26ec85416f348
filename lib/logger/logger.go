package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Settings stores config for logger
type Settings struct {
	Path       string `yaml:"path"`
	Name       string `yaml:"name"`
	Ext        string `yaml:"ext"`
	TimeFormat string `yaml:"time-format"`
}

type logLevel int32

// Output levels
const (
	DEBUG logLevel = iota
	INFO
	WARNING
	ERROR
	FATAL
)

const (
	flags              = log.LstdFlags
	defaultCallerDepth = 3
)

var levelFlags = []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

// 日志写入时加锁，保证前缀和内容成对输出
var (
	mu          sync.Mutex
	logFile     *os.File
	logger      = log.New(os.Stdout, "", flags)
	minLevel    atomic.Int32
	callerDepth = defaultCallerDepth
)

func init() {
	minLevel.Store(int32(INFO))
}

// Setup initializes logger, writing to both stdout and the file described by settings
func Setup(settings *Settings) error {
	ext := settings.Ext
	if ext == "" {
		ext = "log"
	}
	timeFormat := settings.TimeFormat
	if timeFormat == "" {
		timeFormat = "2006-01-02"
	}
	fileName := fmt.Sprintf("%s-%s.%s", settings.Name, time.Now().Format(timeFormat), ext)
	if err := os.MkdirAll(settings.Path, 0o755); err != nil {
		return fmt.Errorf("logger: create dir %s: %w", settings.Path, err)
	}
	file, err := os.OpenFile(filepath.Join(settings.Path, fileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("logger: open file: %w", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = file
	logger = log.New(io.MultiWriter(os.Stdout, file), "", flags)
	return nil
}

// SetOutput redirects log output, mostly used by tests
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger = log.New(w, "", flags)
}

// SetLevel sets the minimum level, accepting debug/info/warn/error
func SetLevel(level string) error {
	switch strings.ToLower(level) {
	case "debug":
		minLevel.Store(int32(DEBUG))
	case "", "info":
		minLevel.Store(int32(INFO))
	case "warn", "warning":
		minLevel.Store(int32(WARNING))
	case "error":
		minLevel.Store(int32(ERROR))
	default:
		return fmt.Errorf("logger: unknown level %q", level)
	}
	return nil
}

func output(level logLevel, msg string) {
	if level < logLevel(minLevel.Load()) {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	logger.SetPrefix("[" + levelFlags[level] + "] ")
	_ = logger.Output(callerDepth, msg)
}

// Debug logs debug message through DefaultLogger
func Debug(v ...any) {
	output(DEBUG, fmt.Sprintln(v...))
}

// Debugf logs debug message through DefaultLogger
func Debugf(format string, v ...any) {
	output(DEBUG, fmt.Sprintf(format, v...))
}

// Info logs message through DefaultLogger
func Info(v ...any) {
	output(INFO, fmt.Sprintln(v...))
}

// Infof logs message through DefaultLogger
func Infof(format string, v ...any) {
	output(INFO, fmt.Sprintf(format, v...))
}

// Warn logs warning message through DefaultLogger
func Warn(v ...any) {
	output(WARNING, fmt.Sprintln(v...))
}

// Warnf logs warning message through DefaultLogger
func Warnf(format string, v ...any) {
	output(WARNING, fmt.Sprintf(format, v...))
}

// Error logs error message through DefaultLogger
func Error(v ...any) {
	output(ERROR, fmt.Sprintln(v...))
}

// Errorf logs error message through DefaultLogger
func Errorf(format string, v ...any) {
	output(ERROR, fmt.Sprintf(format, v...))
}

// Fatal prints error message then stop the program
func Fatal(v ...any) {
	output(FATAL, fmt.Sprintln(v...))
	os.Exit(1)
}
