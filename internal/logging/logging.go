// Package logging wraps sirupsen/logrus with the async, day-rotating
// sink described by log.h/log.cpp and blockqueue.h: when a queue size
// is configured, writes go through a bounded channel drained by one
// background goroutine instead of blocking the caller on file I/O;
// with no queue configured, writes happen synchronously in the
// caller's goroutine.
//
// The original's AppendLogLevelTitle switch is missing break
// statements, so every line is tagged with the INFO prefix regardless
// of its actual level; that bug is not reproduced here -- logrus's
// own level-to-text formatting is used unconditionally.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Level mirrors the original's DEBUG < INFO < WARN < ERROR ordering,
// translated to logrus's own (inverted-severity) level values at the
// boundary in New.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) logrus() logrus.Level {
	switch l {
	case Debug:
		return logrus.DebugLevel
	case Warn:
		return logrus.WarnLevel
	case Error:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Config configures the sink: path/suffix name a rotating log file the
// way the original's init(path, suffix) does; QueueSize > 0 switches
// the sink to asynchronous delivery through a bounded queue of that
// capacity, matching the original's max_capacity BlockDeque parameter.
type Config struct {
	Enabled   bool
	Level     Level
	Path      string
	Suffix    string
	QueueSize int
}

// Sink is a day-rotating, optionally asynchronous log sink built on a
// *logrus.Logger.
type Sink struct {
	logger  *logrus.Logger
	enabled bool

	mu      sync.Mutex
	writer  *rotateWriter
	queue   chan entry
	wg      sync.WaitGroup
	closing chan struct{}
}

type entry struct {
	level logrus.Level
	msg   string
}

// New builds a Sink per cfg. Disabled sinks discard everything at
// negligible cost, matching IsOpen() == false short-circuiting every
// LOG_* macro in the original.
func New(cfg Config) (*Sink, error) {
	s := &Sink{enabled: cfg.Enabled}
	if !cfg.Enabled {
		s.logger = logrus.New()
		s.logger.SetOutput(io.Discard)
		return s, nil
	}

	w, err := newRotateWriter(cfg.Path, cfg.Suffix)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetLevel(cfg.Level.logrus())
	logger.SetOutput(w)

	s.logger = logger
	s.writer = w

	if cfg.QueueSize > 0 {
		s.queue = make(chan entry, cfg.QueueSize)
		s.closing = make(chan struct{})
		s.wg.Add(1)
		go s.asyncWrite()
	}
	return s, nil
}

// asyncWrite drains the queue on a single background goroutine, the
// counterpart to the original's dedicated FlushLogThread.
func (s *Sink) asyncWrite() {
	defer s.wg.Done()
	for {
		select {
		case e := <-s.queue:
			s.emit(e)
		case <-s.closing:
			for {
				select {
				case e := <-s.queue:
					s.emit(e)
				default:
					return
				}
			}
		}
	}
}

func (s *Sink) emit(e entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer != nil {
		s.writer.rotateIfNeeded(time.Now())
	}
	s.logger.Log(e.level, e.msg)
}

func (s *Sink) write(level logrus.Level, msg string) {
	if !s.enabled {
		return
	}
	if s.queue != nil {
		select {
		case s.queue <- entry{level: level, msg: msg}:
		default:
			// queue full: fall back to a synchronous write rather than
			// dropping the record or blocking the caller indefinitely.
			s.emit(entry{level: level, msg: msg})
		}
		return
	}
	s.emit(entry{level: level, msg: msg})
}

func (s *Sink) Debugf(format string, args ...any) { s.write(logrus.DebugLevel, fmt.Sprintf(format, args...)) }
func (s *Sink) Infof(format string, args ...any)  { s.write(logrus.InfoLevel, fmt.Sprintf(format, args...)) }
func (s *Sink) Warnf(format string, args ...any)  { s.write(logrus.WarnLevel, fmt.Sprintf(format, args...)) }
func (s *Sink) Errorf(format string, args ...any) { s.write(logrus.ErrorLevel, fmt.Sprintf(format, args...)) }

// Close flushes any queued records and closes the underlying file.
func (s *Sink) Close() error {
	if s.closing != nil {
		close(s.closing)
		s.wg.Wait()
	}
	if s.writer != nil {
		return s.writer.Close()
	}
	return nil
}

// rotateWriter is an io.Writer that rotates to a new dated file once
// per calendar day and once the current file exceeds maxLinesPerFile lines,
// matching the original's today_/line_count_ rotation triggers.
type rotateWriter struct {
	dir    string
	prefix string
	suffix string

	mu        sync.Mutex
	f         *os.File
	day       string
	lineCount int
}

const maxLinesPerFile = 50000

func newRotateWriter(path, suffix string) (*rotateWriter, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, err
	}
	w := &rotateWriter{dir: path, suffix: suffix}
	if err := w.open(time.Now(), 0); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *rotateWriter) open(now time.Time, seq int) error {
	day := now.Format("2006_01_02")
	name := fmt.Sprintf("%s%s", day, w.suffix)
	if seq > 0 {
		name = fmt.Sprintf("%s-%d%s", day, seq, w.suffix)
	}
	f, err := os.OpenFile(filepath.Join(w.dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if w.f != nil {
		w.f.Close()
	}
	w.f = f
	w.day = day
	w.lineCount = 0
	return nil
}

func (w *rotateWriter) rotateIfNeeded(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	day := now.Format("2006_01_02")
	if day != w.day {
		w.open(now, 0)
		return
	}
	if w.lineCount >= maxLinesPerFile {
		w.open(now, w.lineCount/maxLinesPerFile)
	}
}

func (w *rotateWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, err := w.f.Write(p)
	w.lineCount++
	return n, err
}

func (w *rotateWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}
