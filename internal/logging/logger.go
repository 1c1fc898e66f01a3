// Package logging provides config-driven categorized file logging.
// Logs are written to .hive/logs/ with one file per category per day.
// Logging is controlled by debug_mode in .hive/config.yaml; when false
// every call is a silent no-op.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Category names a logging subsystem.
type Category string

const (
	CategoryBoot      Category = "boot"      // startup and shutdown
	CategorySession   Category = "session"   // session lifecycle, registry
	CategoryStore     Category = "store"     // sqlite stores, migrations
	CategoryRetrieval Category = "retrieval" // hybrid search, fusion
	CategoryEmbedding Category = "embedding" // embedding engines
	CategoryRouting   Category = "routing"   // LLM routing, breakers
	CategoryJobs      Category = "jobs"      // research job orchestration
	CategoryLedger    Category = "ledger"    // claims and citations
	CategoryMemory    Category = "memory"    // global memory promotion
	CategoryFetch     Category = "fetch"     // web acquisition
	CategorySched     Category = "sched"     // semaphore pools
	CategoryIngest    Category = "ingest"    // chunking and indexing
)

// loggingConfig mirrors the logging section of config.Config to avoid
// a circular import; this package reads the raw file itself.
type loggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
}

type configFile struct {
	Logging loggingConfig `yaml:"logging"`
}

// Logger writes category-tagged lines to a per-category file.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	workspace string
	config    loggingConfig
	configMu  sync.RWMutex
	logLevel  int
)

const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Initialize sets up the logging directory and loads config.
// Call once at startup with the workspace path.
func Initialize(ws string) error {
	if ws == "" {
		return fmt.Errorf("workspace path required")
	}

	workspace = ws
	logsDir = filepath.Join(workspace, ".hive", "logs")

	if err := loadConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not load config: %v\n", err)
		config.DebugMode = false
	}

	if !config.DebugMode {
		return nil
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== researchhive logging initialized ===")
	boot.Info("Workspace: %s", workspace)
	boot.Info("Logs directory: %s", logsDir)
	boot.Info("Log level: %s", config.Level)
	return nil
}

func loadConfig() error {
	configMu.Lock()
	defer configMu.Unlock()

	configPath := filepath.Join(workspace, ".hive", "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// No config means quiet production mode.
			config.DebugMode = false
			return nil
		}
		return err
	}

	var cf configFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	config = cf.Logging

	switch config.Level {
	case "debug":
		logLevel = LevelDebug
	case "info":
		logLevel = LevelInfo
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
	return nil
}

// ReloadConfig re-reads the logging section from disk. The config
// watcher calls this when config.yaml changes.
func ReloadConfig() error {
	return loadConfig()
}

// IsDebugMode reports whether debug logging is enabled.
func IsDebugMode() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return config.DebugMode
}

// IsCategoryEnabled reports whether a category is enabled. Categories
// not named in the config default to enabled when debug mode is on.
func IsCategoryEnabled(category Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()

	if !config.DebugMode {
		return false
	}
	if config.Categories == nil {
		return true
	}
	enabled, exists := config.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger when the category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category}
	}
	if logsDir == "" {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	if l, ok := loggers[category]; ok {
		return l
	}

	// Date-prefixed files make external rotation trivial.
	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(logsDir, fmt.Sprintf("%s_%s.log", date, category))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l
	return l
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	l.logger.Printf("[DEBUG] %s", fmt.Sprintf(format, args...))
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	l.logger.Printf("[INFO] %s", fmt.Sprintf(format, args...))
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelWarn {
		return
	}
	l.logger.Printf("[WARN] %s", fmt.Sprintf(format, args...))
}

// Error logs an error message. Errors are always written when the
// logger has a file.
func (l *Logger) Error(format string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	l.logger.Printf("[ERROR] %s", fmt.Sprintf(format, args...))
}

// CloseAll closes all open log files. Call at shutdown.
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// CONVENIENCE FUNCTIONS - quick logging without fetching a logger first.
// No-ops when the category is disabled.
// =============================================================================

func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Info(format, args...)
}

func BootError(format string, args ...interface{}) {
	Get(CategoryBoot).Error(format, args...)
}

func Session(format string, args ...interface{}) {
	Get(CategorySession).Info(format, args...)
}

func Store(format string, args ...interface{}) {
	Get(CategoryStore).Info(format, args...)
}

func StoreDebug(format string, args ...interface{}) {
	Get(CategoryStore).Debug(format, args...)
}

func StoreError(format string, args ...interface{}) {
	Get(CategoryStore).Error(format, args...)
}

func Retrieval(format string, args ...interface{}) {
	Get(CategoryRetrieval).Info(format, args...)
}

func RetrievalDebug(format string, args ...interface{}) {
	Get(CategoryRetrieval).Debug(format, args...)
}

func Embedding(format string, args ...interface{}) {
	Get(CategoryEmbedding).Info(format, args...)
}

func EmbeddingDebug(format string, args ...interface{}) {
	Get(CategoryEmbedding).Debug(format, args...)
}

func Routing(format string, args ...interface{}) {
	Get(CategoryRouting).Info(format, args...)
}

func RoutingWarn(format string, args ...interface{}) {
	Get(CategoryRouting).Warn(format, args...)
}

func Jobs(format string, args ...interface{}) {
	Get(CategoryJobs).Info(format, args...)
}

func JobsDebug(format string, args ...interface{}) {
	Get(CategoryJobs).Debug(format, args...)
}

func JobsError(format string, args ...interface{}) {
	Get(CategoryJobs).Error(format, args...)
}

func Ledger(format string, args ...interface{}) {
	Get(CategoryLedger).Info(format, args...)
}

func LedgerWarn(format string, args ...interface{}) {
	Get(CategoryLedger).Warn(format, args...)
}

func Memory(format string, args ...interface{}) {
	Get(CategoryMemory).Info(format, args...)
}

func Fetch(format string, args ...interface{}) {
	Get(CategoryFetch).Info(format, args...)
}

func FetchWarn(format string, args ...interface{}) {
	Get(CategoryFetch).Warn(format, args...)
}

func Sched(format string, args ...interface{}) {
	Get(CategorySched).Debug(format, args...)
}

func Ingest(format string, args ...interface{}) {
	Get(CategoryIngest).Info(format, args...)
}

// =============================================================================
// TIMING HELPERS
// =============================================================================

// Timer measures the duration of one operation.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation. Extra arguments are formatted
// into the operation label.
func StartTimer(category Category, format string, args ...interface{}) *Timer {
	op := format
	if len(args) > 0 {
		op = fmt.Sprintf(format, args...)
	}
	return &Timer{category: category, op: op, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs a warning if the duration exceeds threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
