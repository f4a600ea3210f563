// Package asynclog implements spec.md §4.9's AsyncLog collaborator: a
// producer contract callable from any goroutine that formats each line
// and queues it on a bounded internal/queue.Deque[record], drained by one
// background goroutine that writes to a dated, rolling file. Grounded on
// original_source/code/log/log.h's Log class (level gate, MAX_LINES
// rollover, one writer thread) with formatting delegated to
// logrus.TextFormatter instead of the source's hand-rolled
// AppendLogLevelTitle_/timestamp buffer.
package asynclog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/voltaic/internal/queue"
)

// Level mirrors the source's 0..3 log_level scale.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) logrusLevel() logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelInfo:
		return logrus.InfoLevel
	case LevelWarn:
		return logrus.WarnLevel
	default:
		return logrus.ErrorLevel
	}
}

// maxLines matches the source's MAX_LINES: a file rolls after this many
// lines even within the same day.
const maxLines = 50000

// record is a single queued, pre-formatted log line waiting to be
// flushed to disk.
type record struct {
	text string
}

// Logger is the AsyncLog producer/consumer pair. A Logger is safe for
// concurrent use by any number of producer goroutines; exactly one
// background goroutine drains it.
type Logger struct {
	level  Level
	dir    string
	suffix string

	queue *queue.Deque[record]
	done  chan struct{}

	mu        sync.Mutex
	day       int
	lineCount int
	file      *os.File
	formatter *logrus.TextFormatter
}

// Open starts a Logger writing into dir (created if absent) with files
// named "<dir>/YYYY_MM_DD<suffix>", gating entries below level,
// buffering up to queueSize pending lines before PushBack blocks.
func Open(level Level, dir, suffix string, queueSize int) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("asynclog: mkdir %s: %w", dir, err)
	}
	l := &Logger{
		level:     level,
		dir:       dir,
		suffix:    suffix,
		queue:     queue.New[record](queueSize),
		done:      make(chan struct{}),
		formatter: &logrus.TextFormatter{FullTimestamp: true, DisableColors: true},
	}
	if err := l.rollIfNeeded(time.Now()); err != nil {
		return nil, err
	}
	go l.drain()
	return l, nil
}

// Log formats and enqueues a line at level, dropping it silently if
// level is below the configured threshold. It blocks only if the queue
// is saturated (spec §4.9's "non-blocking except under back-pressure").
func (l *Logger) Log(level Level, format string, args ...any) {
	if level < l.level {
		return
	}
	entry := logrus.NewEntry(logrus.New())
	entry.Time = time.Now()
	entry.Level = level.logrusLevel()
	entry.Message = fmt.Sprintf(format, args...)
	line, err := l.formatter.Format(entry)
	if err != nil {
		line = []byte(entry.Message + "\n")
	}
	_ = l.queue.PushBack(record{text: string(line)})
}

// Close waits until the drain goroutine has taken every queued line,
// then closes the queue (whose own Close is immediate), waits for the
// goroutine to finish writing and exit, and closes the underlying file.
func (l *Logger) Close() error {
	for !l.queue.Empty() {
		l.queue.Flush()
		time.Sleep(time.Millisecond)
	}
	l.queue.Close()
	<-l.done
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *Logger) drain() {
	defer close(l.done)
	for {
		rec, ok := l.queue.Pop()
		if !ok {
			return
		}
		l.write(rec.text)
	}
}

func (l *Logger) write(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.rollIfNeeded(time.Now()); err != nil {
		return
	}
	if l.file == nil {
		return
	}
	if _, err := l.file.WriteString(text); err != nil {
		return
	}
	l.lineCount++
}

// rollIfNeeded opens a new dated file when the day has changed or the
// current file has reached maxLines, matching the source's toDay_/
// lineCount_ rollover check in Log::AppendLogLevelTitle_.
func (l *Logger) rollIfNeeded(now time.Time) error {
	today := now.Year()*10000 + int(now.Month())*100 + now.Day()
	sameDay := l.file != nil && today == l.day
	if sameDay && (l.lineCount == 0 || l.lineCount%maxLines != 0) {
		return nil
	}

	seq := 0
	if sameDay {
		seq = l.lineCount / maxLines
	}
	name := fmt.Sprintf("%04d_%02d_%02d", now.Year(), now.Month(), now.Day())
	if seq > 0 {
		name = fmt.Sprintf("%s-%d", name, seq)
	}
	path := filepath.Join(l.dir, name+l.suffix)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("asynclog: open %s: %w", path, err)
	}
	if l.file != nil {
		l.file.Close()
	}
	l.file = f
	if !sameDay {
		l.lineCount = 0
	}
	l.day = today
	return nil
}
