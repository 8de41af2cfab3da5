// Copyright (c) 2017 Daniel Oaks <daniel@danieloaks.net>
// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package logger

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Level represents the level to log messages at.
type Level int

const (
	// LogDebug represents debug messages.
	LogDebug Level = iota
	// LogInfo represents informational messages.
	LogInfo
	// LogWarning represents warnings.
	LogWarning
	// LogError represents errors.
	LogError
)

var (
	// LogLevelNames takes a config name and gives the real log level.
	LogLevelNames = map[string]Level{
		"debug":    LogDebug,
		"info":     LogInfo,
		"warn":     LogWarning,
		"warning":  LogWarning,
		"warnings": LogWarning,
		"error":    LogError,
		"errors":   LogError,
	}
	// LogLevelDisplayNames gives the display name to use for our log levels.
	LogLevelDisplayNames = map[Level]string{
		LogDebug:   "debug",
		LogInfo:    "info",
		LogWarning: "warn",
		LogError:   "error",
	}

	// names accepted in configs for compatibility with Atheme-style log
	// categories; canonicalized when loading, never while logging.
	typeAliases = map[string]string{
		"login":   "audit",
		"account": "accounts",
		"link":    "uplink",
	}
)

// TypeLinkTraffic is the log type of raw uplink lines.
const TypeLinkTraffic = "linkio"

func resolveTypeAlias(typeName string) (result string) {
	if canonicalized, ok := typeAliases[typeName]; ok {
		return canonicalized
	}
	return typeName
}

// Manager routes log lines to the sinks configured under `logging:`.
type Manager struct {
	configMutex sync.RWMutex
	filters     []filter
	// stdout and stderr share a lock so their lines don't interleave
	consoleLock    sync.Mutex
	fileLock       sync.Mutex
	loggingTraffic atomic.Bool
	// overrides os.Stdout, for tests
	stdout io.Writer
}

// sink is one destination for formatted lines.
type sink struct {
	out   io.Writer
	lock  *sync.Mutex
	file  *os.File
	flush func() error
}

func (s *sink) write(line []byte) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.out.Write(line)
	if s.flush != nil {
		s.flush()
	}
}

func (s *sink) close() error {
	if s.file == nil {
		return nil
	}
	flushErr := s.flush()
	closeErr := s.file.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// filter is one configured logger: the lines it accepts and where they go.
type filter struct {
	level    Level
	types    map[string]bool
	excluded map[string]bool
	sinks    []sink
}

func (f *filter) captures(level Level, logType string) bool {
	if level < f.level || len(f.sinks) == 0 {
		return false
	}
	// raw traffic is opt-in and never matched by "*"
	if logType == TypeLinkTraffic {
		return f.types[logType] && !f.excluded[logType]
	}
	return (f.types["*"] || f.types[logType]) && !f.excluded["*"] && !f.excluded[logType]
}

// LoggingConfig represents the configuration of a single logger.
type LoggingConfig struct {
	Method        string
	MethodStdout  bool
	MethodStderr  bool
	MethodFile    bool
	Filename      string
	TypeString    string   `yaml:"type"`
	Types         []string `yaml:"real-types"`
	ExcludedTypes []string `yaml:"real-excluded-types"`
	LevelString   string   `yaml:"level"`
	Level         Level    `yaml:"level-real"`
}

// Postprocess fills in the derived fields from the string fields written
// in the config file.
func (config *LoggingConfig) Postprocess() error {
	level, exists := LogLevelNames[strings.ToLower(config.LevelString)]
	if !exists {
		return fmt.Errorf("could not translate log level: %s", config.LevelString)
	}
	config.Level = level

	config.MethodStdout, config.MethodStderr, config.MethodFile = false, false, false
	for _, method := range strings.Fields(config.Method) {
		switch method {
		case "stdout":
			config.MethodStdout = true
		case "stderr":
			config.MethodStderr = true
		case "file":
			config.MethodFile = true
		default:
			return fmt.Errorf("unknown log method: %s", method)
		}
	}
	if config.MethodFile && config.Filename == "" {
		return fmt.Errorf("file logging method requires a filename")
	}

	config.Types, config.ExcludedTypes = nil, nil
	for _, typeStr := range strings.Fields(config.TypeString) {
		if typeStr == "-" {
			continue
		}
		if strings.HasPrefix(typeStr, "-") {
			config.ExcludedTypes = append(config.ExcludedTypes, resolveTypeAlias(typeStr[1:]))
		} else {
			config.Types = append(config.Types, resolveTypeAlias(typeStr))
		}
	}
	if len(config.Types) == 0 {
		return fmt.Errorf("logger has no types to log")
	}
	return nil
}

// NewManager returns a new log manager.
func NewManager(config []LoggingConfig) (*Manager, error) {
	var logger Manager
	if err := logger.ApplyConfig(config); err != nil {
		return nil, err
	}
	return &logger, nil
}

func typeSet(names []string) map[string]bool {
	result := make(map[string]bool, len(names))
	for _, name := range names {
		result[resolveTypeAlias(name)] = true
	}
	return result
}

// ApplyConfig replaces the configured loggers, closing any open log files.
// A log file that cannot be opened is skipped and reported in the error.
func (logger *Manager) ApplyConfig(config []LoggingConfig) error {
	logger.configMutex.Lock()
	defer logger.configMutex.Unlock()

	for _, f := range logger.filters {
		for i := range f.sinks {
			f.sinks[i].close()
		}
	}
	logger.filters = nil
	logger.loggingTraffic.Store(false)

	stdout := logger.stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	var lastErr error
	for _, logConfig := range config {
		f := filter{
			level:    logConfig.Level,
			types:    typeSet(logConfig.Types),
			excluded: typeSet(logConfig.ExcludedTypes),
		}
		if logConfig.MethodStdout {
			f.sinks = append(f.sinks, sink{out: stdout, lock: &logger.consoleLock})
		}
		if logConfig.MethodStderr {
			f.sinks = append(f.sinks, sink{out: os.Stderr, lock: &logger.consoleLock})
		}
		if logConfig.MethodFile {
			file, err := os.OpenFile(logConfig.Filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
			if err != nil {
				lastErr = fmt.Errorf("Could not open log file %s [%s]", logConfig.Filename, err.Error())
			} else {
				writer := bufio.NewWriter(file)
				f.sinks = append(f.sinks, sink{out: writer, lock: &logger.fileLock, file: file, flush: writer.Flush})
			}
		}
		// raw link traffic is only logged at level debug, and only when asked for by name
		if f.level == LogDebug && f.captures(LogDebug, TypeLinkTraffic) {
			logger.loggingTraffic.Store(true)
		}
		logger.filters = append(logger.filters, f)
	}

	return lastErr
}

// Close flushes and closes all log files.
func (logger *Manager) Close() {
	logger.ApplyConfig(nil)
}

// IsLoggingLinkTraffic returns true if raw uplink lines are being logged.
func (logger *Manager) IsLoggingLinkTraffic() bool {
	return logger.loggingTraffic.Load()
}

func formatLine(level Level, logType string, messageParts []string) []byte {
	var buf bytes.Buffer
	// 8 is len("accounts"), the longest log type in regular use
	fmt.Fprintf(&buf, "%s : %-5s : %-8s : ", time.Now().UTC().Format("2006-01-02T15:04:05.000Z"), LogLevelDisplayNames[level], logType)
	buf.WriteString(strings.Join(messageParts, " : "))
	buf.WriteByte('\n')
	return buf.Bytes()
}

// Log writes one line, its parts separated by " : ", to every logger
// that accepts the level and type.
func (logger *Manager) Log(level Level, logType string, messageParts ...string) {
	logger.configMutex.RLock()
	defer logger.configMutex.RUnlock()

	var line []byte
	for i := range logger.filters {
		f := &logger.filters[i]
		if !f.captures(level, logType) {
			continue
		}
		if line == nil {
			line = formatLine(level, logType, messageParts)
		}
		for j := range f.sinks {
			f.sinks[j].write(line)
		}
	}
}

func (logger *Manager) Debug(logType string, messageParts ...string) {
	logger.Log(LogDebug, logType, messageParts...)
}

func (logger *Manager) Info(logType string, messageParts ...string) {
	logger.Log(LogInfo, logType, messageParts...)
}

func (logger *Manager) Warning(logType string, messageParts ...string) {
	logger.Log(LogWarning, logType, messageParts...)
}

func (logger *Manager) Error(logType string, messageParts ...string) {
	logger.Log(LogError, logType, messageParts...)
}
