package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Part tags the extractor looks for. Every other tag is ignored.
const (
	PartAttemptCompletion = "tool-attemptCompletion"
	PartTakeScreenshot    = "tool-take_screenshot"
)

// LogEvent is one line of the harness's JSONL log.
type LogEvent struct {
	Parts []Part
}

// Part is one tagged entry of LogEvent.Parts. The payload stays raw until a
// tag-specific accessor decodes it.
type Part struct {
	Type string
	raw  json.RawMessage
}

func (p *Part) UnmarshalJSON(data []byte) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	p.Type = head.Type
	p.raw = append(json.RawMessage(nil), data...)
	return nil
}

// CompletionResult returns input.result of a completion part.
func (p Part) CompletionResult() (string, bool) {
	if p.Type != PartAttemptCompletion {
		return "", false
	}
	var body struct {
		Input struct {
			Result json.RawMessage `json:"result"`
		} `json:"input"`
	}
	if err := json.Unmarshal(p.raw, &body); err != nil {
		return "", false
	}
	var s string
	if err := json.Unmarshal(body.Input.Result, &s); err != nil || s == "" {
		return "", false
	}
	return s, true
}

// ScreenshotData returns output.content[1].data of a screenshot part, still
// base64 encoded.
func (p Part) ScreenshotData() (string, bool) {
	if p.Type != PartTakeScreenshot {
		return "", false
	}
	var body struct {
		Output struct {
			Content []struct {
				Data string `json:"data"`
			} `json:"content"`
		} `json:"output"`
	}
	if err := json.Unmarshal(p.raw, &body); err != nil {
		return "", false
	}
	if len(body.Output.Content) < 2 || body.Output.Content[1].Data == "" {
		return "", false
	}
	return body.Output.Content[1].Data, true
}

// Find returns the first part carrying tag.
func (e *LogEvent) Find(tag string) (Part, bool) {
	for _, p := range e.Parts {
		if p.Type == tag {
			return p, true
		}
	}
	return Part{}, false
}

// errNoParts marks a record without a usable parts array.
var errNoParts = errors.New("record has no parts array")

// ParseLogEvent decodes a single log record. A record whose parts field is
// absent or not an array yields errNoParts.
func ParseLogEvent(line []byte) (*LogEvent, error) {
	var rec struct {
		Parts json.RawMessage `json:"parts"`
	}
	if err := json.Unmarshal(line, &rec); err != nil {
		// valid JSON that is not an object has no parts either
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, errNoParts
		}
		return nil, err
	}
	trimmed := bytes.TrimSpace(rec.Parts)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, errNoParts
	}

	// parts that are not objects are skipped, not fatal
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, err
	}
	ev := &LogEvent{}
	for _, item := range items {
		var p Part
		if err := json.Unmarshal(item, &p); err != nil {
			continue
		}
		ev.Parts = append(ev.Parts, p)
	}
	return ev, nil
}

// lastLine returns the last non-blank line of content.
func lastLine(content string) string {
	lines := strings.Split(strings.TrimSpace(content), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

// ExtractionResult holds the artifacts recovered from one harness log.
type ExtractionResult struct {
	Completion    string
	HasCompletion bool
	Screenshot    []byte
}

// Empty reports whether nothing was recovered.
func (r *ExtractionResult) Empty() bool {
	return !r.HasCompletion && len(r.Screenshot) == 0
}

// ExtractArtifacts reads the harness log at path and recovers the completion
// result and screenshot from its last record. An empty log is not an error.
// A returned error is always a *LogParseError; the result may still carry
// whatever could be recovered.
func ExtractArtifacts(path string) (*ExtractionResult, error) {
	res := &ExtractionResult{}

	data, err := os.ReadFile(path)
	if err != nil {
		return res, &LogParseError{Path: path, Reason: "failed to read log", Err: err}
	}
	line := lastLine(string(data))
	if line == "" {
		return res, nil
	}

	ev, err := ParseLogEvent([]byte(line))
	if errors.Is(err, errNoParts) {
		return res, nil
	}
	if err != nil {
		return res, &LogParseError{Path: path, Reason: "failed to parse last line", Err: err}
	}

	if part, ok := ev.Find(PartAttemptCompletion); ok {
		if s, ok := part.CompletionResult(); ok {
			res.Completion = s
			res.HasCompletion = true
		}
	}

	if part, ok := ev.Find(PartTakeScreenshot); ok {
		if encoded, ok := part.ScreenshotData(); ok {
			img, err := decodeBase64(encoded)
			if err != nil {
				return res, &LogParseError{Path: path, Reason: "screenshot data is not valid base64", Err: err}
			}
			res.Screenshot = img
		}
	}

	return res, nil
}

// decodeBase64 accepts padded and unpadded standard encoding.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if img, err := base64.StdEncoding.DecodeString(s); err == nil {
		return img, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

// FormatCompletion renders result for the completion file. The pretty
// format re-indents JSON results and leaves anything else as is.
func FormatCompletion(result, format string) string {
	if format != CompletionPretty {
		return result
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(result), "", "  "); err != nil {
		return result
	}
	return buf.String()
}

// LogExtractor runs extraction for the eval stage and persists the artifacts.
type LogExtractor struct {
	Format string
	Logger *RunLogger

	// Out receives the completion on success; nil discards it.
	Out io.Writer
}

// Run extracts from harnessLog and writes the artifacts to paths. Every
// failure is logged and swallowed; the result reports what was written.
func (x *LogExtractor) Run(harnessLog string, paths Paths) *ExtractionResult {
	res, err := ExtractArtifacts(harnessLog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error processing harness log: %v\n", err)
		if x.Logger != nil {
			x.Logger.ExtractionError(err)
		}
	}

	if res.HasCompletion {
		if err := AtomicWriteFile(paths.CompletionFile, []byte(FormatCompletion(res.Completion, x.Format))); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing completion: %v\n", err)
			if x.Logger != nil {
				x.Logger.Error("failed to write completion", err)
			}
		} else {
			if x.Logger != nil {
				x.Logger.ArtifactWritten("completion", paths.CompletionFile, len(res.Completion))
			}
			if x.Out != nil {
				fmt.Fprintln(x.Out, FormatCompletion(res.Completion, CompletionPretty))
			}
		}
	}

	if len(res.Screenshot) > 0 {
		if err := AtomicWriteFile(paths.ScreenshotFile, res.Screenshot); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing screenshot: %v\n", err)
			if x.Logger != nil {
				x.Logger.Error("failed to write screenshot", err)
			}
		} else if x.Logger != nil {
			x.Logger.ArtifactWritten("screenshot", paths.ScreenshotFile, len(res.Screenshot))
		}
	}

	return res
}
