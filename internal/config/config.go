package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/keagan/slopstudio/pkg/util"
	"gopkg.in/yaml.v3"
)

type contextKey string

const configKey contextKey = "config"

// EnvPrefix namespaces every environment override
const EnvPrefix = "SLOPSTUDIO_"

// Config holds all application configuration
type Config struct {
	// Director backend
	Director DirectorConfig `yaml:"director" envPrefix:"DIRECTOR_"`

	// Playback and decoding
	Video VideoConfig `yaml:"video" envPrefix:"VIDEO_"`

	// Foreground matting
	Segmentation SegmentationConfig `yaml:"segmentation" envPrefix:"SEGMENTATION_"`

	Render RenderConfig `yaml:"render" envPrefix:"RENDER_"`
	Store  StoreConfig  `yaml:"store" envPrefix:"STORE_"`
	FFmpeg FFmpegConfig `yaml:"ffmpeg" envPrefix:"FFMPEG_"`
}

type DirectorConfig struct {
	BaseURL string        `yaml:"base_url" env:"BASE_URL"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	APIKey  string        `yaml:"api_key,omitempty" env:"API_KEY"`
}

type VideoConfig struct {
	RefreshHz   int     `yaml:"refresh_hz" env:"REFRESH_HZ"`
	FrameWidth  int     `yaml:"frame_width" env:"FRAME_WIDTH"`
	FrameHeight int     `yaml:"frame_height" env:"FRAME_HEIGHT"`
	DecodeFPS   float64 `yaml:"decode_fps" env:"DECODE_FPS"`
}

type SegmentationConfig struct {
	// Backend is one of onnx, worker, lumakey or none
	Backend        string   `yaml:"backend" env:"BACKEND"`
	ModelPath      string   `yaml:"model_path" env:"MODEL_PATH"`
	RuntimeLibrary string   `yaml:"runtime_library" env:"RUNTIME_LIBRARY"`
	InputName      string   `yaml:"input_name" env:"INPUT_NAME"`
	OutputName     string   `yaml:"output_name" env:"OUTPUT_NAME"`
	InputSize      int      `yaml:"input_size" env:"INPUT_SIZE"`
	WorkerCommand  []string `yaml:"worker_command" env:"WORKER_COMMAND" envSeparator:" "`
	Threshold      float64  `yaml:"threshold" env:"THRESHOLD"`
	KeyColor       string   `yaml:"key_color" env:"KEY_COLOR"`
}

type RenderConfig struct {
	FontDir        string `yaml:"font_dir" env:"FONT_DIR"`
	HUDWidth       int    `yaml:"hud_width" env:"HUD_WIDTH"`
	SubtitleShadow bool   `yaml:"subtitle_shadow" env:"SUBTITLE_SHADOW"`
}

type StoreConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

type FFmpegConfig struct {
	BinaryPath string `yaml:"binary_path" env:"BINARY_PATH"`
	Threads    int    `yaml:"threads" env:"THREADS"`
}

// Load reads configuration from file, then applies .env and environment
// overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = findConfigFile()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadDotEnv loads a .env file into the process environment. Variables that
// are already set win; a missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ParseEnv overlays SLOPSTUDIO_* environment variables onto target
func ParseEnv(target *Config) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	if err := util.EnsureParentDir(path); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate reports the first setting that cannot work
func (c *Config) Validate() error {
	if c.Director.BaseURL == "" {
		return errors.New("director.base_url is required")
	}
	if c.Video.RefreshHz <= 0 {
		return fmt.Errorf("video.refresh_hz must be positive, got %d", c.Video.RefreshHz)
	}
	if c.Video.FrameWidth <= 0 || c.Video.FrameHeight <= 0 {
		return fmt.Errorf("video frame size must be positive, got %dx%d", c.Video.FrameWidth, c.Video.FrameHeight)
	}
	if c.Video.DecodeFPS <= 0 {
		return fmt.Errorf("video.decode_fps must be positive, got %v", c.Video.DecodeFPS)
	}

	switch strings.ToLower(c.Segmentation.Backend) {
	case "onnx":
		if c.Segmentation.ModelPath == "" {
			return errors.New("segmentation.model_path is required for the onnx backend")
		}
		if c.Segmentation.InputSize <= 0 {
			return fmt.Errorf("segmentation.input_size must be positive, got %d", c.Segmentation.InputSize)
		}
	case "worker":
		if len(c.Segmentation.WorkerCommand) == 0 {
			return errors.New("segmentation.worker_command is required for the worker backend")
		}
	case "lumakey", "none", "":
	default:
		return fmt.Errorf("unknown segmentation backend %q", c.Segmentation.Backend)
	}

	if c.Segmentation.Threshold < 0 || c.Segmentation.Threshold > 1 {
		return fmt.Errorf("segmentation.threshold must be within [0,1], got %v", c.Segmentation.Threshold)
	}
	return nil
}

// Default returns the built-in configuration
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Director: DirectorConfig{
			BaseURL: "http://localhost:8000",
			Timeout: 120 * time.Second,
		},
		Video: VideoConfig{
			RefreshHz:   30,
			FrameWidth:  1280,
			FrameHeight: 720,
			DecodeFPS:   30,
		},
		Segmentation: SegmentationConfig{
			Backend:    "lumakey",
			ModelPath:  "./models/selfie_segmentation.onnx",
			InputName:  "input",
			OutputName: "output",
			InputSize:  256,
			Threshold:  0.5,
			KeyColor:   "#00b140",
		},
		Render: RenderConfig{
			HUDWidth:       420,
			SubtitleShadow: true,
		},
		Store: StoreConfig{
			Path: util.HomePath(".slopstudio", "sessions.db"),
		},
		FFmpeg: FFmpegConfig{
			BinaryPath: "ffmpeg",
			Threads:    0,
		},
	}
}

func findConfigFile() string {
	candidates := []string{
		"./slopstudio.yaml",
		"./config.yaml",
		util.HomePath(".slopstudio", "config.yaml"),
	}

	for _, path := range candidates {
		if util.FileExists(path) {
			return path
		}
	}

	return ""
}


// WithConfig stores config in context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from context
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey).(*Config); ok {
		return cfg
	}
	return defaultConfig()
}
