package internal

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger is the run logger. Entries go to the console at the configured
// level and, once LogToFile is called, to the run's log file as JSON lines
// at every level.
type Logger struct {
	*logrus.Logger
	console *writerHook
	file    *writerHook
}

func NewLogger(out io.Writer, verbose bool) *Logger {
	level := logrus.InfoLevel
	if verbose {
		level = logrus.DebugLevel
	}

	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.DebugLevel)

	console := &writerHook{
		w:   out,
		max: level,
		formatter: &logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		},
	}
	l.AddHook(console)
	return &Logger{Logger: l, console: console}
}

// LogToFile appends JSON lines to path for the rest of the run.
func (l *Logger) LogToFile(path string) error {
	if l.file != nil {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	l.file = &writerHook{
		w:         f,
		closer:    f,
		max:       logrus.TraceLevel,
		formatter: &logrus.JSONFormatter{},
	}
	l.AddHook(l.file)
	return nil
}

// SetConsole redirects console output, e.g. to keep a progress bar intact.
func (l *Logger) SetConsole(w io.Writer) {
	l.console.mu.Lock()
	l.console.w = w
	l.console.mu.Unlock()
}

// SetConsoleLevel changes the most verbose level shown on the console.
func (l *Logger) SetConsoleLevel(level logrus.Level) {
	l.console.mu.Lock()
	l.console.max = level
	l.console.mu.Unlock()
}

func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.close()
}

type writerHook struct {
	mu        sync.Mutex
	w         io.Writer
	closer    io.Closer
	max       logrus.Level
	formatter logrus.Formatter
}

func (h *writerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *writerHook) Fire(e *logrus.Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.w == nil || e.Level > h.max {
		return nil
	}
	b, err := h.formatter.Format(e)
	if err != nil {
		return err
	}
	_, err = h.w.Write(b)
	return err
}

func (h *writerHook) close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closer == nil {
		return nil
	}
	err := h.closer.Close()
	h.w, h.closer = nil, nil
	return err
}
