package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// HarnessFollower tails the harness log while the harness runs and reports
// each complete record. It is observational only; extraction always rereads
// the finished file.
type HarnessFollower struct {
	path   string
	logger *RunLogger
	out    io.Writer

	mu        sync.Mutex
	offset    int64
	partial   []byte
	lines     int
	seenParts int

	watcher *fsnotify.Watcher
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewHarnessFollower creates a follower for the log at path. Progress lines
// go to out; nil keeps it quiet.
func NewHarnessFollower(path string, logger *RunLogger, out io.Writer) *HarnessFollower {
	return &HarnessFollower{
		path:   path,
		logger: logger,
		out:    out,
		stop:   make(chan struct{}),
	}
}

// Start begins watching. The file must already exist.
func (f *HarnessFollower) Start(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := w.Add(f.path); err != nil {
		w.Close()
		return fmt.Errorf("failed to watch %s: %w", f.path, err)
	}
	f.watcher = w

	f.wg.Add(1)
	go f.run(ctx)
	return nil
}

// Stop stops watching and consumes whatever is left in the file.
func (f *HarnessFollower) Stop() {
	if f.watcher != nil {
		close(f.stop)
		f.wg.Wait()
		f.watcher.Close()
		f.watcher = nil
	}
	f.drain()
}

// Lines returns the number of records seen so far.
func (f *HarnessFollower) Lines() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lines
}

func (f *HarnessFollower) run(ctx context.Context) {
	defer f.wg.Done()

	// writes can be coalesced, so poll as well
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stop:
			return
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				f.drain()
			}
		case _, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
		case <-ticker.C:
			f.drain()
		}
	}
}

// drain reads everything appended since the last call and handles each
// complete line. A trailing partial line is kept for the next call.
func (f *HarnessFollower) drain() {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.Open(f.path)
	if err != nil {
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return
	}
	if info.Size() < f.offset {
		// truncated underneath us
		f.offset = 0
		f.partial = nil
		f.seenParts = 0
	}
	if _, err := file.Seek(f.offset, io.SeekStart); err != nil {
		return
	}
	data, err := io.ReadAll(file)
	if err != nil || len(data) == 0 {
		return
	}
	f.offset += int64(len(data))

	buf := append(f.partial, data...)
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		f.handleLine(bytes.TrimSpace(buf[:i]))
		buf = buf[i+1:]
	}
	f.partial = append([]byte(nil), buf...)
}

// handleLine reports one record. Caller holds mu.
func (f *HarnessFollower) handleLine(line []byte) {
	if len(line) == 0 {
		return
	}
	f.lines++

	ev, err := ParseLogEvent(line)
	if err != nil {
		return
	}

	types := make([]string, 0, len(ev.Parts))
	for _, p := range ev.Parts {
		types = append(types, p.Type)
	}
	if f.logger != nil {
		f.logger.HarnessLine(f.lines, types)
	}

	// records are cumulative; only announce parts not seen in the previous one
	if len(types) < f.seenParts {
		f.seenParts = 0
	}
	if f.out != nil {
		for _, t := range types[f.seenParts:] {
			if strings.HasPrefix(t, "tool-") {
				fmt.Fprintf(f.out, "  ◆ %s\n", strings.TrimPrefix(t, "tool-"))
			}
		}
	}
	f.seenParts = len(types)
}
