// Package logsink implements the per-daemon append-only log file from
// spec.md §4.12: periodic (not per-line) flush, tail-from-offset,
// range-read by timestamp, and clear-under-lock, with multiple
// concurrent readers and a writer holding only a short-term lock per
// batch.
package logsink

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/corralhq/corral/internal/ids"
)

const flushInterval = 250 * time.Millisecond

// Path returns the deterministic log path for id, per spec.md §3:
// <logs_root>/<ns>--<name>/<ns>--<name>.log.
func Path(logsRoot string, id ids.DaemonId) string {
	enc := id.Encode()
	return filepath.Join(logsRoot, enc, enc+".log")
}

// Sink owns one daemon's append-only log file.
type Sink struct {
	path string

	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer

	stopFlush chan struct{}
	flushDone chan struct{}
}

// Open creates the log directory and opens (or creates) the log file in
// append mode, starting a background flush goroutine.
func Open(path string) (*Sink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	s := &Sink{
		path:      path,
		file:      f,
		writer:    bufio.NewWriter(f),
		stopFlush: make(chan struct{}),
		flushDone: make(chan struct{}),
	}
	go s.flushLoop()
	return s, nil
}

func (s *Sink) flushLoop() {
	defer close(s.flushDone)
	t := time.NewTicker(flushInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.mu.Lock()
			s.writer.Flush()
			s.mu.Unlock()
		case <-s.stopFlush:
			s.mu.Lock()
			s.writer.Flush()
			s.mu.Unlock()
			return
		}
	}
}

// WriteLine timestamps and appends a single line. Callers batch calls
// under normal operation; the writer itself only takes the lock for the
// duration of the buffered write, not the flush.
func (s *Sink) WriteLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.writer, "%s %s\n", time.Now().UTC().Format(time.RFC3339Nano), line)
	return err
}

// Close flushes and closes the underlying file.
func (s *Sink) Close() error {
	close(s.stopFlush)
	<-s.flushDone
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// Clear truncates the log file under lock.
func (s *Sink) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.file.Truncate(0); err != nil {
		return err
	}
	_, err := s.file.Seek(0, 0)
	s.writer.Reset(s.file)
	return err
}

// Entry is one parsed log line.
type Entry struct {
	Time time.Time
	Text string
}

// Tail reads all lines at or after byte offset. It reopens the file for
// reading so it never contends with the writer's handle.
func Tail(path string, offset int64) ([]string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, offset, nil
		}
		return nil, 0, err
	}
	defer f.Close()

	if _, err := f.Seek(offset, 0); err != nil {
		return nil, 0, err
	}
	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, err
	}
	pos, err := f.Seek(0, 1)
	if err != nil {
		return nil, 0, err
	}
	return lines, pos, nil
}

// RangeByTime reads every entry between since and until (zero value on
// either bound disables that side), parsing the RFC3339Nano timestamp
// prefix each WriteLine writes.
func RangeByTime(path string, since, until time.Time) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		sp := strings.IndexByte(line, ' ')
		if sp < 0 {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, line[:sp])
		if err != nil {
			continue
		}
		if !since.IsZero() && ts.Before(since) {
			continue
		}
		if !until.IsZero() && ts.After(until) {
			continue
		}
		out = append(out, Entry{Time: ts, Text: line[sp+1:]})
	}
	return out, scanner.Err()
}
