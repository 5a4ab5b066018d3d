package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"scrollstitch/internal/stitch"
)

const (
	defaultConfigPath = "~/.config/scrollstitch/config.json"
	defaultParallel   = 1
)

// Config holds user-editable settings for the stitcher.
type Config struct {
	Processing Processing    `json:"processing"`
	Logging    Logging       `json:"logging"`
	Paths      Paths         `json:"paths"`
	Matcher    MatcherConfig `json:"matcher"`
	Video      VideoConfig   `json:"video"`
	Compose    ComposeConfig `json:"compose"`
	Server     ServerConfig  `json:"server"`
	Watch      WatchConfig   `json:"watch"`
	Azure      AzureConfig   `json:"azure"`
}

// Processing captures execution preferences.
type Processing struct {
	ParallelJobs int    `json:"parallel_jobs"`
	TempDir      string `json:"temp_dir"`
	QueueSize    int    `json:"queue_size"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // text, json
	FileOutput bool   `json:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir"`     // Directory for log files
}

// Paths configures default input/output locations.
type Paths struct {
	DefaultOutput string `json:"default_output"`
	DatabasePath  string `json:"database_path"`
	SessionDir    string `json:"session_dir"` // source images kept for re-rendering plans
}

// MatcherConfig overrides the built-in matcher profiles. Missing modes keep their defaults.
type MatcherConfig struct {
	DefaultMode   string                    `json:"default_mode"`
	Reorder       bool                      `json:"reorder"`
	MaxExhaustive int                       `json:"max_exhaustive"`
	Profiles      map[string]stitch.Profile `json:"profiles"`
}

// VideoConfig controls frame sampling and keyframe selection.
type VideoConfig struct {
	Decoder         string   `json:"decoder"` // "gocv", "ffmpeg"
	TargetFPS       float64  `json:"target_fps"`
	BufferCapacity  int      `json:"buffer_capacity"`
	MinOverlap      float64  `json:"min_overlap"`
	MaxOverlap      float64  `json:"max_overlap"`
	TimeBudget      Duration `json:"time_budget"`
	DedupeDistance  int      `json:"dedupe_distance"` // dHash distance; negative disables
	MergedReference bool     `json:"merged_reference"`
	MaxMergeHeight  int      `json:"max_merge_height"`
	FFmpegPath      string   `json:"ffmpeg_path"`
	FFprobePath     string   `json:"ffprobe_path"`
}

// ComposeConfig controls rendering and export.
type ComposeConfig struct {
	PreviewScale float64 `json:"preview_scale"`
	OutputFormat string  `json:"output_format"` // png, jpg, tiff, webp
	Quality      int     `json:"quality"`
}

// ServerConfig holds listen addresses for the HTTP and gRPC surfaces.
type ServerConfig struct {
	HTTPAddr string `json:"http_addr"`
	GRPCAddr string `json:"grpc_addr"`
}

// WatchConfig configures the screenshot inbox watcher.
type WatchConfig struct {
	Directories []string `json:"directories"`
	SettleDelay Duration `json:"settle_delay"`
	OutputDir   string   `json:"output_dir"`
}

// AzureConfig holds shared-key credentials for az:// inputs and outputs.
type AzureConfig struct {
	AccountName string `json:"account_name"`
	AccountKey  string `json:"account_key"`
	ServiceURL  string `json:"service_url"`
}

// Duration is a time.Duration that reads and writes as a Go duration string.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n float64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("duration must be a string or seconds: %w", err)
		}
		d.Duration = time.Duration(n * float64(time.Second))
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Load reads configuration from disk, falling back to sensible defaults.
func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := os.Getenv("SCROLLSTITCH_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	expanded, err := expandUser(configPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", expanded, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", expanded, err)
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	tmp := os.TempDir()
	return &Config{
		Processing: Processing{
			ParallelJobs: defaultParallel,
			TempDir:      tmp,
			QueueSize:    32,
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: false,
			LogDir:     "./logs",
		},
		Paths: Paths{
			DefaultOutput: "./output",
			DatabasePath:  filepath.Join(tmp, "scrollstitch.db"),
			SessionDir:    filepath.Join(tmp, "scrollstitch-sessions"),
		},
		Matcher: MatcherConfig{
			DefaultMode:   string(stitch.ModeGeneric),
			Reorder:       true,
			MaxExhaustive: stitch.DefaultMaxExhaustive,
		},
		Video: VideoConfig{
			Decoder:        "gocv",
			TargetFPS:      3,
			BufferCapacity: 10,
			MinOverlap:     0.15,
			MaxOverlap:     0.90,
			TimeBudget:     Duration{9500 * time.Millisecond},
			DedupeDistance: 0,
			MaxMergeHeight: 4000,
			FFmpegPath:     "ffmpeg",
			FFprobePath:    "ffprobe",
		},
		Compose: ComposeConfig{
			PreviewScale: 0.5,
			OutputFormat: "png",
			Quality:      92,
		},
		Server: ServerConfig{
			HTTPAddr: ":8080",
			GRPCAddr: ":50051",
		},
		Watch: WatchConfig{
			SettleDelay: Duration{2 * time.Second},
			OutputDir:   "./output",
		},
	}
}

// Validate rejects settings the stitcher cannot run with.
func (c *Config) Validate() error {
	if c.Processing.ParallelJobs < 1 {
		return fmt.Errorf("processing.parallel_jobs must be >= 1")
	}
	if _, err := stitch.ParseMode(c.Matcher.DefaultMode); err != nil {
		return fmt.Errorf("matcher.default_mode: %w", err)
	}
	for name, p := range c.Matcher.Profiles {
		if _, err := stitch.ParseMode(name); err != nil {
			return fmt.Errorf("matcher.profiles: %w", err)
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("matcher.profiles.%s: %w", name, err)
		}
	}
	v := c.Video
	switch v.Decoder {
	case "gocv", "ffmpeg":
	default:
		return fmt.Errorf("video.decoder must be gocv or ffmpeg, got %q", v.Decoder)
	}
	if v.TargetFPS <= 0 {
		return fmt.Errorf("video.target_fps must be positive")
	}
	if v.BufferCapacity < 1 {
		return fmt.Errorf("video.buffer_capacity must be >= 1")
	}
	if v.MinOverlap < 0 || v.MaxOverlap > 1 || v.MinOverlap >= v.MaxOverlap {
		return fmt.Errorf("video overlap band [%v, %v] is invalid", v.MinOverlap, v.MaxOverlap)
	}
	if c.Compose.PreviewScale <= 0 || c.Compose.PreviewScale > 1 {
		return fmt.Errorf("compose.preview_scale must be in (0,1]")
	}
	switch c.Compose.OutputFormat {
	case "png", "jpg", "jpeg", "tiff", "webp":
	default:
		return fmt.Errorf("compose.output_format %q is not supported", c.Compose.OutputFormat)
	}
	if (c.Azure.AccountName == "") != (c.Azure.AccountKey == "") {
		return fmt.Errorf("azure.account_name and azure.account_key must be set together")
	}
	return nil
}

// StitchOptions converts the matcher, video and compose sections into stitcher options.
func (c *Config) StitchOptions() stitch.Options {
	profiles := make(map[stitch.Mode]stitch.Profile, len(c.Matcher.Profiles))
	for name, p := range c.Matcher.Profiles {
		mode, err := stitch.ParseMode(name)
		if err != nil {
			continue
		}
		p.Mode = mode
		profiles[mode] = p
	}
	sel := stitch.DefaultSelectorOptions()
	sel.BufferSize = c.Video.BufferCapacity
	sel.MinOverlap = c.Video.MinOverlap
	sel.MaxOverlap = c.Video.MaxOverlap
	sel.Budget = c.Video.TimeBudget.Duration
	sel.MergeReference = c.Video.MergedReference
	sel.MergeMaxHeight = c.Video.MaxMergeHeight
	return stitch.Options{
		Profiles:      profiles,
		Selector:      sel,
		MaxExhaustive: c.Matcher.MaxExhaustive,
		PreviewScale:  c.Compose.PreviewScale,
	}
}

// ExpandUser resolves a leading ~ to the user's home directory.
func ExpandUser(path string) (string, error) {
	return expandUser(path)
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
