package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

const defaultLogFile = "./scheduler.log"

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr

	globalsOnce sync.Once
)

func setGlobals() {
	globalsOnce.Do(func() {
		zerolog.ErrorFieldName = "err"
		zerolog.TimeFieldFormat = consoleTimeFormat
	})
}

// Service owns the log sinks. Loggers handed out by it pick up every Apply.
type Service struct {
	mu   sync.Mutex
	cfg  Config
	out  io.Writer
	file *os.File

	zl atomic.Pointer[zerolog.Logger]
}

type ServiceOption func(*Service)

// WithOutput replaces stdout as the primary sink.
func WithOutput(w io.Writer) ServiceOption {
	return func(s *Service) { s.out = w }
}

// New builds the service with cfg already applied and returns its root
// Logger.
func New(cfg Config, opts ...ServiceOption) (*Service, Logger) {
	setGlobals()
	s := &Service{out: stdout}
	for _, o := range opts {
		o(s)
	}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.zl.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

// Level is the level currently applied.
func (s *Service) Level() Level {
	zl := s.current()
	return zl.GetLevel()
}

// Apply rebuilds the sinks from cfg. Loggers already handed out switch over
// immediately.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, consoleWriter(s.out))
	} else {
		writers = append(writers, s.out)
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultLogFile
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(stderr, "logx: open log file %q: %v\n", path, err)
		} else {
			s.file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(cfg.Level, LevelInfo)).
		With().Timestamp().Logger()
	s.zl.Store(&zl)
}

// Close releases the file sink. Logging keeps working on the primary sink.
func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	return f.Close()
}

func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: consoleTimeFormat,
		FormatCaller: func(i any) string {
			s, _ := i.(string)
			return s
		},
	}
}
