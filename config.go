package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	configFileName = "runeval.yaml"

	defaultModel = "google/gemini-2.5-pro"
	defaultPort  = 3000

	CompletionRaw    = "raw"
	CompletionPretty = "pretty"

	portPlaceholder = "{port}"
)

// AgentConfig configures the coding agent invoked by the run stage.
type AgentConfig struct {
	Command    string   `yaml:"command"`
	Args       []string `yaml:"args"`
	PromptFlag string   `yaml:"promptFlag"`
	ModelFlag  string   `yaml:"modelFlag"`
}

// DevServerConfig configures the background dev server.
type DevServerConfig struct {
	Command      string   `yaml:"command"`
	Args         []string `yaml:"args"`
	ReadyTimeout int      `yaml:"readyTimeout"` // seconds, 0 disables the readiness wait
	StopTimeout  int      `yaml:"stopTimeout"`  // seconds between SIGTERM and SIGKILL
}

// HarnessConfig configures the evaluation harness and the flags it takes.
type HarnessConfig struct {
	Command             string   `yaml:"command"`
	Args                []string `yaml:"args"`
	URLFlag             string   `yaml:"urlFlag"`
	DirFlag             string   `yaml:"dirFlag"`
	PromptFlag          string   `yaml:"promptFlag"`
	StrictChecklistFlag string   `yaml:"strictChecklistFlag"`
	InstructionLogFlag  string   `yaml:"instructionLogFlag"`
	AgentModelFlag      string   `yaml:"agentModelFlag"`
	StreamJSONFlag      string   `yaml:"streamJsonFlag"`
}

// OutputConfig configures how extracted artifacts are written.
type OutputConfig struct {
	CompletionFormat string `yaml:"completionFormat"` // "raw" or "pretty"
	ExtractOnFailure bool   `yaml:"extractOnFailure"`
	CompletionFile   string `yaml:"completionFile"`
	ScreenshotFile   string `yaml:"screenshotFile"`
}

// BrowserConfig configures the fallback screenshot browser.
type BrowserConfig struct {
	FallbackScreenshot bool   `yaml:"fallbackScreenshot"`
	ExecutablePath     string `yaml:"executablePath,omitempty"`
	Headless           bool   `yaml:"headless"`
	Timeout            int    `yaml:"timeout"` // seconds
}

// Config is the contents of runeval.yaml.
type Config struct {
	Model           string          `yaml:"model"`
	Port            int             `yaml:"port"`
	StrictChecklist bool            `yaml:"strictChecklist"`
	LogsDir         string          `yaml:"logsDir"`
	Agent           AgentConfig     `yaml:"agent"`
	DevServer       DevServerConfig `yaml:"devServer"`
	Harness         HarnessConfig   `yaml:"harness"`
	Output          OutputConfig    `yaml:"output"`
	Browser         BrowserConfig   `yaml:"browser"`
	Logging         LoggingConfig   `yaml:"logging"`
}

// ResolvedConfig is the loaded configuration and the root it was loaded for.
type ResolvedConfig struct {
	ProjectRoot string
	Config      Config
}

// DefaultConfig returns the configuration used when runeval.yaml is absent.
// Values read from a file are layered on top of these.
func DefaultConfig() Config {
	return Config{
		Model:           defaultModel,
		Port:            defaultPort,
		StrictChecklist: true,
		LogsDir:         "logs",
		Agent: AgentConfig{
			Command:    "pochi",
			PromptFlag: "-p",
			ModelFlag:  "--model",
		},
		DevServer: DevServerConfig{
			Command:      "bun",
			Args:         []string{"dev", "--port", portPlaceholder},
			ReadyTimeout: 30,
			StopTimeout:  5,
		},
		Harness: HarnessConfig{
			Command:             "bun",
			Args:                []string{"ollie"},
			URLFlag:             "-u",
			DirFlag:             "-d",
			PromptFlag:          "-q",
			StrictChecklistFlag: "--strict-checklist",
			InstructionLogFlag:  "--instruction-log",
			AgentModelFlag:      "--model",
			StreamJSONFlag:      "--stream-json",
		},
		Output: OutputConfig{
			CompletionFormat: CompletionRaw,
			CompletionFile:   "completion.txt",
			ScreenshotFile:   "screenshot.jpg",
		},
		Browser: BrowserConfig{
			Headless: true,
			Timeout:  30,
		},
		Logging: *DefaultLoggingConfig(),
	}
}

// ConfigPath returns the default path of runeval.yaml.
func ConfigPath(projectRoot string) string {
	return filepath.Join(projectRoot, configFileName)
}

// LoadConfig loads runeval.yaml. An empty path means the default location,
// where a missing file is not an error.
func LoadConfig(projectRoot, path string) (*ResolvedConfig, error) {
	explicit := path != ""
	if !explicit {
		path = ConfigPath(projectRoot)
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", filepath.Base(path), err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// defaults only
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	applyConfigDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &ResolvedConfig{
		ProjectRoot: projectRoot,
		Config:      cfg,
	}, nil
}

// applyConfigDefaults fills zero values a file may have cleared.
func applyConfigDefaults(cfg *Config) {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.LogsDir == "" {
		cfg.LogsDir = "logs"
	}
	if cfg.DevServer.StopTimeout <= 0 {
		cfg.DevServer.StopTimeout = 5
	}
	if cfg.Output.CompletionFormat == "" {
		cfg.Output.CompletionFormat = CompletionRaw
	}
	if cfg.Output.CompletionFile == "" {
		cfg.Output.CompletionFile = "completion.txt"
	}
	if cfg.Output.ScreenshotFile == "" {
		cfg.Output.ScreenshotFile = "screenshot.jpg"
	}
	if cfg.Browser.Timeout <= 0 {
		cfg.Browser.Timeout = 30
	}
	if cfg.Logging.MaxRuns < 0 {
		cfg.Logging.MaxRuns = 0
	}
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if err := validatePort(cfg.Port); err != nil {
		return err
	}
	if cfg.Agent.Command == "" {
		return fmt.Errorf("agent.command is required")
	}
	if cfg.DevServer.Command == "" {
		return fmt.Errorf("devServer.command is required")
	}
	if cfg.Harness.Command == "" {
		return fmt.Errorf("harness.command is required")
	}
	if cfg.DevServer.ReadyTimeout < 0 {
		return fmt.Errorf("devServer.readyTimeout must not be negative")
	}
	switch cfg.Output.CompletionFormat {
	case CompletionRaw, CompletionPretty:
	default:
		return fmt.Errorf("output.completionFormat must be %q or %q, got %q", CompletionRaw, CompletionPretty, cfg.Output.CompletionFormat)
	}
	return nil
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

// substitutePort replaces {port} in every arg.
func substitutePort(args []string, port int) []string {
	out := make([]string, len(args))
	p := strconv.Itoa(port)
	for i, a := range args {
		out[i] = strings.ReplaceAll(a, portPlaceholder, p)
	}
	return out
}

// WriteDefaultConfig writes a default runeval.yaml
func WriteDefaultConfig(projectRoot string) error {
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return AtomicWriteFile(ConfigPath(projectRoot), data)
}

// findGitRoot finds the git root from a starting directory
func findGitRoot(start string) string {
	dir := start
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return start
		}
		dir = parent
	}
}

// GetProjectRoot returns the project root (git root or cwd)
func GetProjectRoot() string {
	cwd, _ := os.Getwd()
	return findGitRoot(cwd)
}

// isCommandAvailable checks if a command is available in PATH
func isCommandAvailable(cmd string) bool {
	_, err := exec.LookPath(cmd)
	return err == nil
}

// fileExists checks if a file exists
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
