package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv     = "TRANSCRIPT_PIPELINE_CONFIG"
	watchFolderEnv    = "TRANSCRIPT_WATCH_FOLDER"
	pollIntervalEnv   = "TRANSCRIPT_POLL_INTERVAL"
	ledgerPathEnv     = "TRANSCRIPT_LEDGER_PATH"
	ledgerDSNEnv      = "TRANSCRIPT_LEDGER_DSN"
	crmBaseURLEnv     = "CRM_BASE_URL"
	crmAPIKeyEnv      = "CRM_API_KEY"
	crmEntityIDEnv    = "CRM_ENTITY_ID"
	extractorKeyEnv   = "EXTRACTOR_API_KEY"
	extractorModelEnv = "EXTRACTOR_MODEL"
	githubTokenEnv    = "GITHUB_TOKEN"
	githubRepoEnv     = "GITHUB_REPO"
)

// Config holds high-level settings required across the application.
type Config struct {
	Watcher   WatcherConfig   `yaml:"watcher"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	CRM       CRMConfig       `yaml:"crm"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Tracker   TrackerConfig   `yaml:"tracker"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// WatcherConfig describes the watched folder and the retry policy for
// files that fail or are abandoned mid-run.
type WatcherConfig struct {
	Folder             string        `yaml:"folder"`
	OutputDir          string        `yaml:"outputDir"`
	PollInterval       time.Duration `yaml:"pollInterval"`
	Extensions         []string      `yaml:"extensions"`
	Ignore             []string      `yaml:"ignore"`
	HashContent        bool          `yaml:"hashContent"`
	MaxAttempts        int           `yaml:"maxAttempts"`
	StaleLaunchedAfter time.Duration `yaml:"staleLaunchedAfter"`
}

// LedgerConfig selects the ledger backend: file path by default, a
// Postgres DSN when set.
type LedgerConfig struct {
	Path string `yaml:"path"`
	DSN  string `yaml:"dsn"`
}

// CRMConfig wires the entity-scoped CRM API collaborator.
type CRMConfig struct {
	BaseURL  string `yaml:"baseUrl"`
	APIKey   string `yaml:"apiKey"`
	EntityID string `yaml:"entityId"`
}

// ExtractorConfig defines how to contact the extraction model API.
type ExtractorConfig struct {
	Endpoint     string `yaml:"endpoint"`
	Model        string `yaml:"model"`
	APIKey       string `yaml:"apiKey"`
	SystemPrompt string `yaml:"systemPrompt"`
}

// TrackerConfig wires the GitHub issue reporter.
type TrackerConfig struct {
	BaseURL string   `yaml:"baseUrl"`
	Repo    string   `yaml:"repo"`
	Token   string   `yaml:"token"`
	Labels  []string `yaml:"labels"`
}

// LoggingConfig controls the slog handler level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(watchFolderEnv); v != "" {
		c.Watcher.Folder = v
	}
	if v := os.Getenv(pollIntervalEnv); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			c.Watcher.PollInterval = time.Duration(secs) * time.Second
		} else {
			log.Printf("config: invalid %s=%q, keeping %s", pollIntervalEnv, v, c.Watcher.PollInterval)
		}
	}
	if v := os.Getenv(ledgerPathEnv); v != "" {
		c.Ledger.Path = v
	}
	if v := os.Getenv(ledgerDSNEnv); v != "" {
		c.Ledger.DSN = v
	}
	if v := os.Getenv(crmBaseURLEnv); v != "" {
		c.CRM.BaseURL = v
	}
	if v := os.Getenv(crmAPIKeyEnv); v != "" {
		c.CRM.APIKey = v
	}
	if v := os.Getenv(crmEntityIDEnv); v != "" {
		c.CRM.EntityID = v
	}
	if v := os.Getenv(extractorKeyEnv); v != "" {
		c.Extractor.APIKey = v
	}
	if v := os.Getenv(extractorModelEnv); v != "" {
		c.Extractor.Model = v
	}
	if v := os.Getenv(githubTokenEnv); v != "" {
		c.Tracker.Token = v
	}
	if v := os.Getenv(githubRepoEnv); v != "" {
		c.Tracker.Repo = v
	}
}

func mergeConfig(base, override Config) Config {
	if override.Watcher.Folder != "" {
		base.Watcher.Folder = override.Watcher.Folder
	}
	if override.Watcher.OutputDir != "" {
		base.Watcher.OutputDir = override.Watcher.OutputDir
	}
	if override.Watcher.PollInterval > 0 {
		base.Watcher.PollInterval = override.Watcher.PollInterval
	}
	if len(override.Watcher.Extensions) > 0 {
		base.Watcher.Extensions = override.Watcher.Extensions
	}
	if len(override.Watcher.Ignore) > 0 {
		base.Watcher.Ignore = override.Watcher.Ignore
	}
	if override.Watcher.HashContent {
		base.Watcher.HashContent = true
	}
	if override.Watcher.MaxAttempts > 0 {
		base.Watcher.MaxAttempts = override.Watcher.MaxAttempts
	}
	if override.Watcher.StaleLaunchedAfter > 0 {
		base.Watcher.StaleLaunchedAfter = override.Watcher.StaleLaunchedAfter
	}

	if override.Ledger.Path != "" {
		base.Ledger.Path = override.Ledger.Path
	}
	if override.Ledger.DSN != "" {
		base.Ledger.DSN = override.Ledger.DSN
	}

	if override.CRM.BaseURL != "" {
		base.CRM.BaseURL = override.CRM.BaseURL
	}
	if override.CRM.APIKey != "" {
		base.CRM.APIKey = override.CRM.APIKey
	}
	if override.CRM.EntityID != "" {
		base.CRM.EntityID = override.CRM.EntityID
	}

	if override.Extractor.Endpoint != "" {
		base.Extractor.Endpoint = override.Extractor.Endpoint
	}
	if override.Extractor.Model != "" {
		base.Extractor.Model = override.Extractor.Model
	}
	if override.Extractor.APIKey != "" {
		base.Extractor.APIKey = override.Extractor.APIKey
	}
	if override.Extractor.SystemPrompt != "" {
		base.Extractor.SystemPrompt = override.Extractor.SystemPrompt
	}

	if override.Tracker.BaseURL != "" {
		base.Tracker.BaseURL = override.Tracker.BaseURL
	}
	if override.Tracker.Repo != "" {
		base.Tracker.Repo = override.Tracker.Repo
	}
	if override.Tracker.Token != "" {
		base.Tracker.Token = override.Tracker.Token
	}
	if len(override.Tracker.Labels) > 0 {
		base.Tracker.Labels = override.Tracker.Labels
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}

	return base
}

func defaultConfig() Config {
	return Config{
		Watcher: WatcherConfig{
			Folder:             "transcripts",
			OutputDir:          "meeting-notes",
			PollInterval:       30 * time.Second,
			Extensions:         []string{".md", ".pdf"},
			Ignore:             []string{"README.md"},
			MaxAttempts:        3,
			StaleLaunchedAfter: 30 * time.Minute,
		},
		Ledger: LedgerConfig{
			Path: "transcript_ledger.json",
		},
		CRM: CRMConfig{
			BaseURL: "http://localhost:8000/api",
		},
		Extractor: ExtractorConfig{
			Endpoint: "https://api.openai.com/v1/chat/completions",
			Model:    "gpt-4o-mini",
			SystemPrompt: "You extract structured sales-meeting data from transcripts. " +
				"Respond with a single JSON object and nothing else.",
		},
		Tracker: TrackerConfig{
			BaseURL: "https://api.github.com",
			Labels:  []string{"meeting-transcript"},
		},
		Logging: LoggingConfig{Level: "info"},
	}
}
