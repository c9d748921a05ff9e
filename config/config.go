package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

// Config captures all command-line options required to run an ingest.
type Config struct {
	Archives   []string
	DBPath     string
	RulesPath  string
	StateDir   string
	ScratchDir string
	BatchSize  int
	Readpst    string
	LogLevel   string
	LogDir     string
}

// RegisterIngestFlags attaches the ingest flags to the provided command.
func RegisterIngestFlags(cmd *cobra.Command) error {
	defaultStateDir, err := defaultStateDir()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	flags.String("db", "", "Path to the SQLite store")
	flags.String("rules", "", "Path to the YAML tagging rules file")
	flags.String("state-dir", defaultStateDir, "Directory for per-archive checkpoint files")
	flags.String("scratch-dir", "", "Scratch directory for zip/PST extraction (defaults to the system temp dir)")
	flags.Int("batch-size", 200, "Number of records committed per store transaction")
	flags.String("readpst", "", "Path to the readpst binary (defaults to $PATH lookup)")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Directory for log files (stdout only when empty)")

	if err := cmd.MarkFlagRequired("db"); err != nil {
		return err
	}
	if err := cmd.MarkFlagRequired("rules"); err != nil {
		return err
	}

	return nil
}

// LoadConfig converts the parsed Cobra flags into a Config struct with validation.
func LoadConfig(cmd *cobra.Command, archives []string) (Config, error) {
	flags := cmd.Flags()

	dbPath, err := flags.GetString("db")
	if err != nil {
		return Config{}, err
	}
	rulesPath, err := flags.GetString("rules")
	if err != nil {
		return Config{}, err
	}
	stateDir, err := flags.GetString("state-dir")
	if err != nil {
		return Config{}, err
	}
	scratchDir, err := flags.GetString("scratch-dir")
	if err != nil {
		return Config{}, err
	}
	batchSize, err := flags.GetInt("batch-size")
	if err != nil {
		return Config{}, err
	}
	readpst, err := flags.GetString("readpst")
	if err != nil {
		return Config{}, err
	}
	logLevel, err := flags.GetString("log-level")
	if err != nil {
		return Config{}, err
	}
	logDir, err := flags.GetString("log-dir")
	if err != nil {
		return Config{}, err
	}

	if stateDir == "" {
		stateDir, err = defaultStateDir()
		if err != nil {
			return Config{}, err
		}
	}
	if scratchDir == "" {
		scratchDir = os.TempDir()
	}

	logLevel = strings.ToLower(logLevel)
	if logLevel == "warning" {
		logLevel = "warn"
	}

	cfg := Config{
		Archives:   archives,
		DBPath:     dbPath,
		RulesPath:  rulesPath,
		StateDir:   filepath.Clean(stateDir),
		ScratchDir: filepath.Clean(scratchDir),
		BatchSize:  batchSize,
		Readpst:    readpst,
		LogLevel:   logLevel,
		LogDir:     logDir,
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	if len(cfg.Archives) == 0 {
		return fmt.Errorf("at least one archive path is required")
	}
	if cfg.DBPath == "" {
		return fmt.Errorf("--db is required")
	}
	if cfg.RulesPath == "" {
		return fmt.Errorf("--rules is required")
	}
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("--batch-size must be positive")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}

func defaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".mailvault", "state"), nil
}
