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
	Chat    ChatConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

const defaultLogFile = "./commitbot.log"

// Service owns the active zerolog logger and its outputs. Loggers obtained from
// it pick up a new configuration as soon as Apply returns.
type Service struct {
	mu   sync.Mutex
	file *os.File
	chat *chatSink

	active atomic.Pointer[zerolog.Logger]
}

// New builds the service from cfg and returns it with a bound Logger.
func New(cfg Config) (*Service, Logger) {
	setGlobals()
	s := &Service{chat: newChatSink()}
	s.Apply(cfg)
	return s, s.Logger()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

func (s *Service) current() zerolog.Logger {
	if zl := s.active.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// SetChatSender attaches the gateway behind the chat sink. The gateway is built
// with a logger from this service, so it can only be wired afterwards.
func (s *Service) SetChatSender(sender ChatSender) { s.chat.setSender(sender) }

// Apply rebuilds the outputs from cfg. It may run concurrently with logging.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var outs []io.Writer
	if cfg.Console {
		outs = append(outs, consoleWriter(Stdout()))
	}

	prev := s.file
	s.file = nil
	if cfg.File.Enabled {
		if f, err := openLogFile(cfg.File.Path); err != nil {
			fmt.Fprintf(Stderr(), "logx: %v\n", err)
		} else {
			s.file = f
			outs = append(outs, zerolog.SyncWriter(f))
		}
	}

	s.chat.configure(cfg.Chat)
	if cfg.Chat.Enabled {
		if strings.TrimSpace(cfg.Chat.Channel) == "" {
			fmt.Fprintln(Stderr(), "logx: chat sink enabled without logging.chat.channel")
		}
		outs = append(outs, s.chat)
	}

	if len(outs) == 0 {
		outs = append(outs, consoleWriter(Stdout()))
	}
	zl := zerolog.New(zerolog.MultiLevelWriter(outs...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.active.Store(&zl)

	// Writers still holding the old file only lose lines logged during the swap.
	if prev != nil {
		_ = prev.Close()
	}
}

// Close stops the chat worker and closes the log file.
func (s *Service) Close() error {
	s.chat.stop()

	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	return f.Close()
}

func openLogFile(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = defaultLogFile
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return f, nil
}
