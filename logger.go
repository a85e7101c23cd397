package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of log event
type EventType string

const (
	EventRunStart        EventType = "run_start"
	EventRunEnd          EventType = "run_end"
	EventStageStart      EventType = "stage_start"
	EventStageEnd        EventType = "stage_end"
	EventProcessStart    EventType = "process_start"
	EventProcessExit     EventType = "process_exit"
	EventServiceStart    EventType = "service_start"
	EventServiceReady    EventType = "service_ready"
	EventServiceStop     EventType = "service_stop"
	EventHarnessLine     EventType = "harness_line"
	EventArtifactWritten EventType = "artifact_written"
	EventExtractionError EventType = "extraction_error"
	EventSignal          EventType = "signal"
	EventWarning         EventType = "warning"
	EventError           EventType = "error"
)

// Event represents a single log event
type Event struct {
	Timestamp time.Time              `json:"ts"`
	Type      EventType              `json:"type"`
	RunID     string                 `json:"run,omitempty"`
	Stage     string                 `json:"stage,omitempty"`
	Duration  *int64                 `json:"duration,omitempty"` // nanoseconds
	Success   *bool                  `json:"success,omitempty"`
	Message   string                 `json:"msg,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// RunLogger writes the JSONL event log of one invocation and the
// timestamped console output. A nil *RunLogger prints to the console and
// drops events.
type RunLogger struct {
	file      *os.File
	encoder   *json.Encoder
	mu        sync.Mutex
	runNumber int
	runID     string
	stage     string
	startTime time.Time
	enabled   bool
	config    *LoggingConfig

	stageStart time.Time
}

// LoggingConfig configures the logging system
type LoggingConfig struct {
	Enabled           bool `yaml:"enabled"`
	MaxRuns           int  `yaml:"maxRuns"`
	ConsoleTimestamps bool `yaml:"consoleTimestamps"`
}

// DefaultLoggingConfig returns sensible defaults
func DefaultLoggingConfig() *LoggingConfig {
	return &LoggingConfig{
		Enabled:           true,
		MaxRuns:           10,
		ConsoleTimestamps: true,
	}
}

// NewRunLogger creates a new logger writing run-NNN.jsonl under runsDir.
func NewRunLogger(runsDir string, config *LoggingConfig) (*RunLogger, error) {
	if config == nil {
		config = DefaultLoggingConfig()
	}

	logger := &RunLogger{
		runID:     uuid.NewString(),
		startTime: time.Now(),
		enabled:   config.Enabled,
		config:    config,
	}

	if !config.Enabled {
		return logger, nil
	}

	if err := os.MkdirAll(runsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create runs directory: %w", err)
	}

	runNumber := nextRunNumber(runsDir)
	logger.runNumber = runNumber

	// Keep room for the run about to be created
	if config.MaxRuns > 0 {
		rotateOldRuns(runsDir, config.MaxRuns-1)
	}

	logPath := filepath.Join(runsDir, fmt.Sprintf("run-%03d.jsonl", runNumber))
	file, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	logger.file = file
	logger.encoder = json.NewEncoder(file)

	return logger, nil
}

// Close closes the log file. Later events are dropped.
func (l *RunLogger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// RunNumber returns the current run number
func (l *RunLogger) RunNumber() int {
	return l.runNumber
}

// RunID returns the unique id of this run
func (l *RunLogger) RunID() string {
	return l.runID
}

// LogPath returns the path to the current log file
func (l *RunLogger) LogPath() string {
	if l == nil {
		return ""
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		return l.file.Name()
	}
	return ""
}

// logEvent is an internal helper that writes an event with all fields
func (l *RunLogger) logEvent(event Event) {
	if l == nil || !l.enabled {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Stage == "" {
		event.Stage = l.stage
	}
	event.RunID = l.runID

	l.encoder.Encode(event)
}

// RunStart logs the start of a run
func (l *RunLogger) RunStart(mode Mode, model string, port int, prompt string) {
	if l == nil {
		return
	}
	l.logEvent(Event{
		Type: EventRunStart,
		Data: map[string]interface{}{
			"mode":       mode.String(),
			"model":      model,
			"port":       port,
			"prompt":     prompt,
			"run_number": l.runNumber,
		},
	})
}

// RunEnd logs the end of a run
func (l *RunLogger) RunEnd(success bool, summary string) {
	if l == nil {
		return
	}
	duration := time.Since(l.startTime).Nanoseconds()
	l.logEvent(Event{
		Type:     EventRunEnd,
		Duration: &duration,
		Success:  &success,
		Message:  summary,
	})
}

// StageStart logs the start of a pipeline stage
func (l *RunLogger) StageStart(stage string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.stage = stage
	l.stageStart = time.Now()
	l.mu.Unlock()
	l.logEvent(Event{Type: EventStageStart, Stage: stage})
}

// StageEnd logs the end of a pipeline stage
func (l *RunLogger) StageEnd(stage string, err error) {
	if l == nil {
		return
	}
	l.mu.Lock()
	duration := time.Since(l.stageStart).Nanoseconds()
	l.stage = ""
	l.mu.Unlock()

	success := err == nil
	event := Event{
		Type:     EventStageEnd,
		Stage:    stage,
		Duration: &duration,
		Success:  &success,
	}
	if err != nil {
		event.Message = err.Error()
	}
	l.logEvent(event)
}

// ProcessStart logs a spawned process
func (l *RunLogger) ProcessStart(name string, argv []string, pid int) {
	l.logEvent(Event{
		Type: EventProcessStart,
		Data: map[string]interface{}{
			"name": name,
			"argv": argv,
			"pid":  pid,
		},
	})
}

// ProcessExit logs a process exit
func (l *RunLogger) ProcessExit(name string, exitCode int, durationNs int64) {
	success := exitCode == 0
	l.logEvent(Event{
		Type:     EventProcessExit,
		Duration: &durationNs,
		Success:  &success,
		Data: map[string]interface{}{
			"name":      name,
			"exit_code": exitCode,
		},
	})
}

// ServiceStart logs a background service start
func (l *RunLogger) ServiceStart(name, cmd string, pid int) {
	l.logEvent(Event{
		Type: EventServiceStart,
		Data: map[string]interface{}{
			"name": name,
			"cmd":  cmd,
			"pid":  pid,
		},
	})
}

// ServiceReady logs a service becoming ready (or giving up on it)
func (l *RunLogger) ServiceReady(name, url string, ready bool, durationNs int64) {
	l.logEvent(Event{
		Type:     EventServiceReady,
		Duration: &durationNs,
		Success:  &ready,
		Data: map[string]interface{}{
			"name": name,
			"url":  url,
		},
	})
}

// ServiceStop logs a service stop
func (l *RunLogger) ServiceStop(name string, exitCode int) {
	l.logEvent(Event{
		Type: EventServiceStop,
		Data: map[string]interface{}{
			"name":      name,
			"exit_code": exitCode,
		},
	})
}

// HarnessLine logs one record seen while following the harness log
func (l *RunLogger) HarnessLine(line int, partTypes []string) {
	l.logEvent(Event{
		Type: EventHarnessLine,
		Data: map[string]interface{}{
			"line":  line,
			"parts": partTypes,
		},
	})
}

// ArtifactWritten logs an extracted artifact
func (l *RunLogger) ArtifactWritten(kind, path string, size int) {
	l.logEvent(Event{
		Type: EventArtifactWritten,
		Data: map[string]interface{}{
			"kind": kind,
			"path": path,
			"size": size,
		},
	})
}

// ExtractionError logs a non-fatal extraction failure
func (l *RunLogger) ExtractionError(err error) {
	l.logEvent(Event{
		Type:    EventExtractionError,
		Message: err.Error(),
	})
}

// Signal logs a received signal and the exit code it maps to
func (l *RunLogger) Signal(name string, exitCode int) {
	l.logEvent(Event{
		Type:    EventSignal,
		Message: name,
		Data: map[string]interface{}{
			"exit_code": exitCode,
		},
	})
}

// Warning logs a warning message
func (l *RunLogger) Warning(msg string) {
	l.logEvent(Event{
		Type:    EventWarning,
		Message: msg,
	})
}

// Error logs an error message
func (l *RunLogger) Error(msg string, err error) {
	data := map[string]interface{}{}
	if err != nil {
		data["error"] = err.Error()
	}
	l.logEvent(Event{
		Type:    EventError,
		Message: msg,
		Data:    data,
	})
}

// Console output helpers with timestamps

// LogPrint prints a timestamped message to stdout
func (l *RunLogger) LogPrint(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if l != nil && l.config != nil && l.config.ConsoleTimestamps {
		timestamp := time.Now().Format("15:04:05")
		fmt.Printf("[%s] %s", timestamp, msg)
	} else {
		fmt.Print(msg)
	}
}

// LogPrintln prints a timestamped message with newline to stdout
func (l *RunLogger) LogPrintln(args ...interface{}) {
	msg := fmt.Sprint(args...)
	if l != nil && l.config != nil && l.config.ConsoleTimestamps {
		timestamp := time.Now().Format("15:04:05")
		fmt.Printf("[%s] %s\n", timestamp, msg)
	} else {
		fmt.Println(msg)
	}
}

// FormatDuration formats a duration for display
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%.0fms", float64(d.Milliseconds()))
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	if seconds == 0 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%dm%ds", minutes, seconds)
}

// Helper functions

func isRunFile(name string) bool {
	return strings.HasPrefix(name, "run-") && strings.HasSuffix(name, ".jsonl")
}

// nextRunNumber determines the next run number based on existing logs
func nextRunNumber(runsDir string) int {
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		return 1
	}

	maxRun := 0
	for _, entry := range entries {
		if entry.IsDir() || !isRunFile(entry.Name()) {
			continue
		}
		if num := extractRunNumber(entry.Name()); num > maxRun {
			maxRun = num
		}
	}

	return maxRun + 1
}

// rotateOldRuns deletes runs beyond keep (keeps most recent)
func rotateOldRuns(runsDir string, keep int) {
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		return
	}

	var runFiles []string
	for _, entry := range entries {
		if !entry.IsDir() && isRunFile(entry.Name()) {
			runFiles = append(runFiles, entry.Name())
		}
	}

	if len(runFiles) <= keep {
		return
	}

	sort.Slice(runFiles, func(i, j int) bool {
		return extractRunNumber(runFiles[i]) < extractRunNumber(runFiles[j])
	})

	toDelete := len(runFiles) - keep
	for i := 0; i < toDelete; i++ {
		os.Remove(filepath.Join(runsDir, runFiles[i]))
	}
}

// extractRunNumber extracts the run number from a filename like "run-001.jsonl"
func extractRunNumber(filename string) int {
	numStr := strings.TrimPrefix(filename, "run-")
	numStr = strings.TrimSuffix(numStr, ".jsonl")
	num, _ := strconv.Atoi(numStr)
	return num
}

// RunSummary contains summary info about a run
type RunSummary struct {
	RunNumber int
	RunID     string
	LogPath   string
	Mode      string
	StartTime time.Time
	EndTime   *time.Time
	Success   *bool
	Summary   string
}

// ListRuns returns all run logs in runsDir, most recent first
func ListRuns(runsDir string) ([]RunSummary, error) {
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var runs []RunSummary
	for _, entry := range entries {
		if entry.IsDir() || !isRunFile(entry.Name()) {
			continue
		}

		logPath := filepath.Join(runsDir, entry.Name())
		summary := RunSummary{
			RunNumber: extractRunNumber(entry.Name()),
			LogPath:   logPath,
		}

		if first, last := readFirstLastEvents(logPath); first != nil {
			summary.StartTime = first.Timestamp
			summary.RunID = first.RunID
			if mode, ok := first.Data["mode"].(string); ok {
				summary.Mode = mode
			}
			if last != nil && last.Type == EventRunEnd {
				summary.EndTime = &last.Timestamp
				summary.Success = last.Success
				summary.Summary = last.Message
			}
		}

		runs = append(runs, summary)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].RunNumber > runs[j].RunNumber
	})

	return runs, nil
}

// readFirstLastEvents reads the first and last events from a log file
func readFirstLastEvents(logPath string) (*Event, *Event) {
	events, err := ReadEvents(logPath, nil)
	if err != nil || len(events) == 0 {
		return nil, nil
	}
	return &events[0], &events[len(events)-1]
}

// ReadEvents reads events from a log file with optional filtering
func ReadEvents(logPath string, filter *EventFilter) ([]Event, error) {
	file, err := os.Open(logPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return ReadEventsFromReader(file, filter)
}

// ReadEventsFromReader reads events from an io.Reader with optional filtering
func ReadEventsFromReader(r io.Reader, filter *EventFilter) ([]Event, error) {
	var events []Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		var event Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}

		if filter != nil && !filter.Match(&event) {
			continue
		}

		events = append(events, event)
	}

	return events, scanner.Err()
}

// EventFilter filters events when reading logs
type EventFilter struct {
	EventType EventType
	Stage     string
}

// Match returns true if the event matches the filter
func (f *EventFilter) Match(event *Event) bool {
	if f.EventType != "" && event.Type != f.EventType {
		return false
	}
	if f.Stage != "" && event.Stage != f.Stage {
		return false
	}
	return true
}
