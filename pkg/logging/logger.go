package logging

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GhostN3xus/bigipxxe/pkg/config"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	levelOff
)

var levelNames = [...]struct{ name, short, color string }{
	LevelDebug: {"debug", "DBG", "\033[36m"},
	LevelInfo:  {"info", "INF", "\033[34m"},
	LevelWarn:  {"warn", "WRN", "\033[33m"},
	LevelError: {"error", "ERR", "\033[31m"},
}

func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return "info"
	}
	return levelNames[l].name
}

func (l Level) Short() string {
	if l < LevelDebug || l > LevelError {
		return "INF"
	}
	return levelNames[l].short
}

func parseLevel(s string) Level {
	s = strings.ToLower(strings.TrimSpace(s))
	for l, n := range levelNames {
		if n.name == s {
			return Level(l)
		}
	}
	return LevelInfo
}

// RuntimeOptions represents verbosity overrides coming from CLI flags.
type RuntimeOptions struct {
	Quiet   bool
	Verbose bool
	Debug   bool
}

// Fields represents contextual logging fields.
type Fields map[string]any

// outcomeKeys are printed after an outcome line, in this order.
var outcomeKeys = []string{"remote_file", "loot_path", "detail"}

type sink struct {
	mu           sync.Mutex
	level        Level
	consoleLevel Level
	color        bool
	console      io.Writer
	file         *logFile
}

// Logger writes one console line per event and, when enabled, a JSON line to
// the log file. Events carrying an "outcome" field are attempt results and
// render as a status line; leaked results are always shown.
type Logger struct {
	sink   *sink
	fields Fields
}

// NewLogger creates a new Logger writing to stdout and, when enabled, to a JSON log file.
func NewLogger(cfg config.LoggingConfig, runtime RuntimeOptions) (*Logger, error) {
	return NewLoggerWithWriter(os.Stdout, cfg, runtime)
}

// NewLoggerWithWriter is NewLogger with an explicit console writer.
func NewLoggerWithWriter(console io.Writer, cfg config.LoggingConfig, runtime RuntimeOptions) (*Logger, error) {
	s := &sink{
		level:        parseLevel(cfg.Level),
		consoleLevel: parseLevel(cfg.ConsoleLevel),
		color:        cfg.Color && !runtime.Quiet,
		console:      console,
	}
	switch {
	case runtime.Debug:
		s.level, s.consoleLevel = LevelDebug, LevelDebug
	case runtime.Verbose:
		s.consoleLevel = LevelDebug
	case runtime.Quiet:
		s.consoleLevel = LevelError
	}

	if cfg.FileEnabled {
		f, err := openLogFile(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxBackups)
		if err != nil {
			return nil, err
		}
		s.file = f
	}
	return &Logger{sink: s, fields: Fields{}}, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{sink: &sink{level: levelOff, consoleLevel: levelOff, console: io.Discard}, fields: Fields{}}
}

// With attaches additional fields to the logger.
func (l *Logger) With(fields Fields) *Logger {
	return &Logger{sink: l.sink, fields: mergeFields(l.fields, fields)}
}

func (l *Logger) Close() error {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.file == nil {
		return nil
	}
	err := l.sink.file.close()
	l.sink.file = nil
	return err
}

func (l *Logger) Debug(msg string, fields Fields) { l.log(LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields Fields)  { l.log(LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields Fields)  { l.log(LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields Fields) { l.log(LevelError, msg, fields) }

func (l *Logger) log(level Level, msg string, fields Fields) {
	merged := mergeFields(l.fields, fields)
	now := time.Now()

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	if level >= l.sink.consoleLevel || merged["outcome"] == "leaked" {
		fmt.Fprintln(l.sink.console, l.sink.render(now, level, msg, merged))
	}
	if l.sink.file != nil && level >= l.sink.level {
		entry := map[string]any{
			"time":  now.Format(time.RFC3339Nano),
			"level": level.String(),
			"msg":   msg,
		}
		for k, v := range merged {
			if err, ok := v.(error); ok {
				v = err.Error()
			}
			entry[k] = v
		}
		l.sink.file.write(entry)
	}
}

func (s *sink) paint(code, text string) string {
	if !s.color || code == "" {
		return text
	}
	return code + text + "\033[0m"
}

// render builds one console line. Outcome lines read
//
//	15:04:05 [LEAKED] 10.0.0.5:443 Remote file retrieved remote_file=/etc/passwd loot_path=...
//
// other lines are "15:04:05 INF msg key=value ..." with keys sorted.
func (s *sink) render(now time.Time, level Level, msg string, fields Fields) string {
	var b strings.Builder
	b.WriteString(s.paint("\033[2m", now.Format("15:04:05")))
	b.WriteByte(' ')

	if outcome, ok := fields["outcome"]; ok {
		name := fmt.Sprint(outcome)
		b.WriteString(s.paint(outcomeColor(name), "["+strings.ToUpper(name)+"]"))
		if host, ok := fields["host"]; ok {
			fmt.Fprintf(&b, " %v", host)
		}
		b.WriteString(" " + msg)
		for _, k := range outcomeKeys {
			if v, ok := fields[k]; ok && fmt.Sprint(v) != "" {
				writePair(&b, k, v)
			}
		}
		return b.String()
	}

	color := ""
	if level >= LevelDebug && level <= LevelError {
		color = levelNames[level].color
	}
	b.WriteString(s.paint(color, level.Short()))
	b.WriteString(" " + msg)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writePair(&b, k, fields[k])
	}
	return b.String()
}

func writePair(b *strings.Builder, key string, value any) {
	v := fmt.Sprint(value)
	if len(v) > 80 {
		v = v[:77] + "..."
	}
	if strings.ContainsAny(v, " \t\"") {
		v = fmt.Sprintf("%q", v)
	}
	fmt.Fprintf(b, " %s=%s", key, v)
}

func outcomeColor(outcome string) string {
	switch outcome {
	case "leaked":
		return "\033[1;32m"
	case "patched", "not_vulnerable", "empty_file":
		return "\033[1;34m"
	default:
		return "\033[1;31m"
	}
}

func mergeFields(base Fields, fields Fields) Fields {
	merged := make(Fields, len(base)+len(fields))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return merged
}

// logFile is a size-rotated JSON lines file. Rotated copies get a timestamp
// suffix and only the newest maxBackups are kept.
type logFile struct {
	path       string
	maxBytes   int64
	maxBackups int
	f          *os.File
}

func openLogFile(path string, maxSizeMB, maxBackups int) (*logFile, error) {
	if path == "" {
		return nil, errors.New("logger: file path not configured")
	}
	lf := &logFile{path: path, maxBytes: int64(maxSizeMB) << 20, maxBackups: maxBackups}
	if lf.maxBytes <= 0 {
		lf.maxBytes = 10 << 20
	}
	if lf.maxBackups <= 0 {
		lf.maxBackups = 5
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := lf.open(); err != nil {
		return nil, err
	}
	return lf, nil
}

func (lf *logFile) open() error {
	f, err := os.OpenFile(lf.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	lf.f = f
	return nil
}

func (lf *logFile) write(entry map[string]any) {
	if lf.f == nil {
		return
	}
	if info, err := lf.f.Stat(); err == nil && info.Size() >= lf.maxBytes {
		lf.rotate()
		if lf.f == nil {
			return
		}
	}
	_ = json.NewEncoder(lf.f).Encode(entry)
}

func (lf *logFile) rotate() {
	_ = lf.f.Close()
	lf.f = nil
	_ = os.Rename(lf.path, lf.path+"."+time.Now().Format("20060102-150405"))

	backups, _ := filepath.Glob(lf.path + ".*")
	if extra := len(backups) - lf.maxBackups; extra > 0 {
		sort.Strings(backups)
		for _, old := range backups[:extra] {
			_ = os.Remove(old)
		}
	}
	_ = lf.open()
}

func (lf *logFile) close() error {
	if lf.f == nil {
		return nil
	}
	return lf.f.Close()
}
