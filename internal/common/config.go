package common

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/joseph-ayodele/pii-masker/constants"
)

// Config holds all application configuration
type Config struct {
	Storage  StorageConfig `yaml:"storage"`
	Workers  WorkerConfig  `yaml:"workers"`
	Upload   UploadConfig  `yaml:"upload"`
	OCR      OCRConfig     `yaml:"ocr"`
	Remote   RemoteConfig  `yaml:"remote"`
	Audit    AuditConfig   `yaml:"audit"`
	Server   ServerConfig  `yaml:"server"`
	Janitor  JanitorConfig `yaml:"janitor"`
	LogLevel string        `yaml:"log_level"`
}

// StorageConfig holds the scratch directories
type StorageConfig struct {
	WorkDir  string `yaml:"work_dir"`
	InboxDir string `yaml:"inbox_dir"`
}

// WorkerConfig sizes the worker pool
type WorkerConfig struct {
	Count      int           `yaml:"count"`
	QueueSize  int           `yaml:"queue_size"`
	JobTimeout time.Duration `yaml:"job_timeout"`
}

// UploadConfig holds caller-side media limits
type UploadConfig struct {
	MaxBytes    int64 `yaml:"max_bytes"`
	RenderScale int   `yaml:"render_scale"`
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	Backend      string `yaml:"backend"`
	TesseractBin string `yaml:"tesseract_bin"`
	PdftoppmBin  string `yaml:"pdftoppm_bin"`
	TessdataDir  string `yaml:"tessdata_dir"`
}

// RemoteConfig holds the external recognizer endpoints
type RemoteConfig struct {
	VisionURL    string        `yaml:"vision_url"`
	VisionAPIKey string        `yaml:"vision_api_key"`
	NERURL       string        `yaml:"ner_url"`
	HTTPTimeout  time.Duration `yaml:"http_timeout"`
}

// AuditConfig selects the audit sink
type AuditConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr string `yaml:"grpc_addr"`
}

// JanitorConfig controls scratch cleanup
type JanitorConfig struct {
	Schedule string        `yaml:"schedule"`
	MaxAge   time.Duration `yaml:"max_age"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Storage:  StorageConfig{WorkDir: "./tmp"},
		Workers:  WorkerConfig{Count: 4, QueueSize: 64, JobTimeout: 3 * time.Minute},
		Upload:   UploadConfig{MaxBytes: constants.MaxUploadBytesDefault, RenderScale: constants.RenderScaleDefault},
		OCR:      OCRConfig{Backend: "cli", TesseractBin: "tesseract", PdftoppmBin: "pdftoppm"},
		Remote:   RemoteConfig{HTTPTimeout: 30 * time.Second},
		Audit:    AuditConfig{Driver: "none"},
		Server:   ServerConfig{GRPCAddr: ":8080"},
		Janitor:  JanitorConfig{Schedule: "@every 10m", MaxAge: time.Hour},
		LogLevel: "info",
	}
}

// LoadConfig layers defaults, an optional YAML file, .env and the environment.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	path := getEnv("CONFIG_PATH", "config.yaml")
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, NewAppError("CONFIG_ERROR", fmt.Sprintf("parse %s", path), err)
		}
		slog.Debug("config.loaded", "path", path)
	case !errors.Is(err, fs.ErrNotExist):
		return nil, NewAppError("CONFIG_ERROR", fmt.Sprintf("read %s", path), err)
	}

	// .env is optional; real environment wins over it.
	_ = godotenv.Load()

	cfg.Storage.WorkDir = getEnv("WORK_DIR", cfg.Storage.WorkDir)
	cfg.Storage.InboxDir = getEnv("INBOX_DIR", cfg.Storage.InboxDir)
	cfg.Workers.Count = getEnvAsInt("WORKERS", cfg.Workers.Count)
	cfg.Workers.QueueSize = getEnvAsInt("QUEUE_SIZE", cfg.Workers.QueueSize)
	cfg.Workers.JobTimeout = getEnvAsDuration("JOB_TIMEOUT", cfg.Workers.JobTimeout)
	cfg.Upload.MaxBytes = getEnvAsInt64("MAX_UPLOAD_BYTES", cfg.Upload.MaxBytes)
	cfg.Upload.RenderScale = getEnvAsInt("RENDER_SCALE", cfg.Upload.RenderScale)
	cfg.OCR.Backend = getEnv("OCR_BACKEND", cfg.OCR.Backend)
	cfg.OCR.TesseractBin = getEnv("TESSERACT_BIN", cfg.OCR.TesseractBin)
	cfg.OCR.PdftoppmBin = getEnv("PDFTOPPM_BIN", cfg.OCR.PdftoppmBin)
	cfg.OCR.TessdataDir = getEnv("TESSDATA_PREFIX", cfg.OCR.TessdataDir)
	cfg.Remote.VisionURL = getEnv("VISION_URL", cfg.Remote.VisionURL)
	cfg.Remote.VisionAPIKey = getEnv("VISION_API_KEY", cfg.Remote.VisionAPIKey)
	cfg.Remote.NERURL = getEnv("NER_URL", cfg.Remote.NERURL)
	cfg.Remote.HTTPTimeout = getEnvAsDuration("HTTP_TIMEOUT", cfg.Remote.HTTPTimeout)
	cfg.Audit.Driver = getEnv("AUDIT_DRIVER", cfg.Audit.Driver)
	cfg.Audit.DSN = getEnv("AUDIT_DSN", cfg.Audit.DSN)
	cfg.Server.GRPCAddr = getEnv("GRPC_ADDR", cfg.Server.GRPCAddr)
	cfg.Janitor.Schedule = getEnv("JANITOR_SCHEDULE", cfg.Janitor.Schedule)
	cfg.Janitor.MaxAge = getEnvAsDuration("JANITOR_MAX_AGE", cfg.Janitor.MaxAge)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	return cfg, nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate rejects configurations the daemon cannot run with
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Storage.WorkDir) == "" {
		return NewAppError("CONFIG_ERROR", "WORK_DIR is required", ErrInvalidInput)
	}
	if err := checkWorkDir(c.Storage.WorkDir, c.Storage.InboxDir); err != nil {
		return err
	}
	if c.Workers.Count < 1 {
		return NewAppError("CONFIG_ERROR", "WORKERS must be at least 1", ErrInvalidInput)
	}
	if c.Workers.QueueSize < 1 {
		return NewAppError("CONFIG_ERROR", "QUEUE_SIZE must be at least 1", ErrInvalidInput)
	}
	if c.Upload.MaxBytes <= 0 {
		return NewAppError("CONFIG_ERROR", "MAX_UPLOAD_BYTES must be positive", ErrInvalidInput)
	}
	if c.Upload.RenderScale < 1 {
		return NewAppError("CONFIG_ERROR", "RENDER_SCALE must be at least 1", ErrInvalidInput)
	}
	switch c.OCR.Backend {
	case "cli", "gosseract":
	default:
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("unknown OCR_BACKEND %q", c.OCR.Backend), ErrInvalidInput)
	}
	switch c.Audit.Driver {
	case "none", "":
	case "sqlite", "postgres":
		if c.Audit.DSN == "" {
			return NewAppError("CONFIG_ERROR", "AUDIT_DSN is required for "+c.Audit.Driver, ErrInvalidInput)
		}
	default:
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("unknown AUDIT_DRIVER %q", c.Audit.Driver), ErrInvalidInput)
	}
	if c.Server.GRPCAddr == "" {
		return NewAppError("CONFIG_ERROR", "GRPC_ADDR is required", ErrInvalidInput)
	}
	return nil
}

// checkWorkDir rejects work directories whose startup wipe would reach files
// the daemon does not own: the filesystem root, the home directory, any
// ancestor of the current directory, and anything overlapping the inbox.
func checkWorkDir(workDir, inboxDir string) error {
	work, err := filepath.Abs(workDir)
	if err != nil {
		return NewAppError("CONFIG_ERROR", "resolve WORK_DIR", err)
	}
	reject := func(why string) error {
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("WORK_DIR %q %s", workDir, why), ErrInvalidInput)
	}
	if work == filepath.Dir(work) {
		return reject("is a filesystem root")
	}
	if home, err := os.UserHomeDir(); err == nil && work == filepath.Clean(home) {
		return reject("is the home directory")
	}
	if cwd, err := os.Getwd(); err == nil && within(cwd, work) {
		return reject("contains the working directory")
	}
	if strings.TrimSpace(inboxDir) != "" {
		inbox, err := filepath.Abs(inboxDir)
		if err != nil {
			return NewAppError("CONFIG_ERROR", "resolve INBOX_DIR", err)
		}
		if within(inbox, work) || within(work, inbox) {
			return reject(fmt.Sprintf("overlaps INBOX_DIR %q", inboxDir))
		}
	}
	return nil
}

// within reports whether path equals dir or lies below it.
func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
