// Package logx provides structured logging with per-component prefixes and
// env-controlled debug domains.
package logx

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger writes timestamped, component-tagged lines to stderr and mirrors them
// into the in-memory buffer for the status endpoints.
type Logger struct {
	component string
	logger    *log.Logger
}

// Entry is a structured log record kept in the in-memory buffer.
type Entry struct {
	Timestamp string `json:"timestamp"`
	Component string `json:"component"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Domain    string `json:"domain,omitempty"`
}

type ringBuffer struct {
	mu      sync.RWMutex
	entries []Entry
	maxSize int
}

// debugConfig controls which domains emit debug lines. Populated from env:
//
//	DEBUG=1                         enable debug everywhere
//	DEBUG=1 DEBUG_DOMAINS=room,llm  enable debug for listed domains only
//
//nolint:gochecknoglobals // process-wide logging configuration
var (
	debugEnabled bool
	debugDomains map[string]bool
	debugMu      sync.RWMutex

	buffer = &ringBuffer{maxSize: 1000}
)

//nolint:gochecknoinits // env var initialization
func init() {
	if v := os.Getenv("DEBUG"); v == "1" || strings.EqualFold(v, "true") {
		debugEnabled = true
	}
	if domains := os.Getenv("DEBUG_DOMAINS"); domains != "" {
		debugDomains = make(map[string]bool)
		for _, d := range strings.Split(domains, ",") {
			debugDomains[strings.TrimSpace(d)] = true
		}
	}
}

func NewLogger(component string) *Logger {
	return &Logger{
		component: component,
		logger:    log.New(os.Stderr, "", 0), // stderr keeps stdout clean for CLI use
	}
}

// SetDebug overrides the env-derived debug configuration.
func SetDebug(enabled bool, domains []string) {
	debugMu.Lock()
	defer debugMu.Unlock()

	debugEnabled = enabled
	if len(domains) == 0 {
		debugDomains = nil
		return
	}
	debugDomains = make(map[string]bool, len(domains))
	for _, d := range domains {
		debugDomains[strings.TrimSpace(d)] = true
	}
}

// DebugEnabledFor reports whether debug logging applies to the given domain.
func DebugEnabledFor(domain string) bool {
	debugMu.RLock()
	defer debugMu.RUnlock()

	if !debugEnabled {
		return false
	}
	if debugDomains == nil {
		return true
	}
	return debugDomains[domain]
}

func (b *ringBuffer) add(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append(b.entries, e)
	if len(b.entries) > b.maxSize {
		b.entries = b.entries[len(b.entries)-b.maxSize:]
	}
}

func (b *ringBuffer) snapshot(domain string, since time.Time) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Entry, 0, len(b.entries))
	for i := range b.entries {
		e := &b.entries[i]
		if domain != "" && e.Domain != "" && !strings.EqualFold(e.Domain, domain) {
			continue
		}
		if !since.IsZero() {
			ts, err := time.Parse("2006-01-02T15:04:05.000Z", e.Timestamp)
			if err != nil || ts.Before(since) {
				continue
			}
		}
		out = append(out, *e)
	}
	return out
}

// RecentEntries returns buffered log entries, optionally filtered by domain
// and timestamp. Used by the status HTTP endpoint.
func RecentEntries(domain string, since time.Time) []Entry {
	return buffer.snapshot(domain, since)
}

func (l *Logger) log(level Level, domain, format string, args ...any) {
	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	message := fmt.Sprintf(format, args...)
	l.logger.Printf("[%s] [%s] %s: %s", timestamp, l.component, level, message)

	buffer.add(Entry{
		Timestamp: timestamp,
		Component: l.component,
		Level:     string(level),
		Message:   message,
		Domain:    domain,
	})
}

func (l *Logger) Debug(format string, args ...any) {
	if !DebugEnabledFor(l.component) {
		return
	}
	l.log(LevelDebug, l.component, format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, "", format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, "", format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, "", format, args...)
}

func (l *Logger) Component() string {
	return l.component
}

// WithComponent returns a logger sharing the same sink under a new component tag.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{component: component, logger: l.logger}
}

//nolint:gochecknoglobals // convenience default logger
var defaultLogger = NewLogger("system")

func Debugf(format string, args ...any) { defaultLogger.Debug(format, args...) }
func Infof(format string, args ...any)  { defaultLogger.Info(format, args...) }
func Warnf(format string, args ...any)  { defaultLogger.Warn(format, args...) }

// Errorf logs and returns the formatted error. Use when an error must be both
// reported and propagated:
//
//	return logx.Errorf("open store: %w", err)
func Errorf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	defaultLogger.Error("%s", err.Error())
	return err
}

// Wrap logs msg + ": " + err.Error() and returns the wrapped error. No-op on nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %w", msg, err)
	defaultLogger.Error("%s", wrapped.Error())
	return wrapped
}
