package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Output   string `yaml:"output"`
	BaseURL  string `yaml:"base_url"`
	Category string `yaml:"category"`
	Brand    string `yaml:"brand"`
	Debug    bool   `yaml:"debug"`

	// request pacing, shared across worker processes via the marker file
	RequestFloorMS   int    `yaml:"request_floor_ms"`
	RelaxedFloorMS   int    `yaml:"relaxed_floor_ms"`
	BackoffThreshold int    `yaml:"backoff_threshold"`
	BackoffCooldownS int    `yaml:"backoff_cooldown_s"`
	RateMarker       string `yaml:"rate_marker"`

	MaxAttempts int `yaml:"max_attempts"`
	MinPageText int `yaml:"min_page_text"`

	Cookie     string `yaml:"cookie"`
	CookieFile string `yaml:"cookie_file"`
	UserAgent  string `yaml:"user_agent"`
	BypassCF   bool   `yaml:"bypass_cf"`

	// OCRCommand reads an image on stdin and writes text to stdout;
	// empty disables the image fallback.
	OCRCommand string   `yaml:"ocr_command"`
	OCRArgs    []string `yaml:"ocr_args"`

	URLCache string `yaml:"url_cache"`
	Journal  string `yaml:"journal"`
	SpoolDir string `yaml:"spool_dir"`
}

type Options struct {
	IgnoreConfig bool
	Debug        bool
	Output       string
	BaseURL      string
	Category     string
	Brand        string

	RequestFloorMS   int
	RelaxedFloorMS   int
	BackoffThreshold int
	BackoffCooldownS int
	RateMarker       string

	MaxAttempts int
	MinPageText int

	Cookie     string
	CookieFile string
	UserAgent  string
	BypassCF   bool

	OCRCommand string

	URLCache string
	Journal  string
	SpoolDir string
}

func DefaultConfig() *Config {
	return &Config{
		Output:           ".",
		BaseURL:          "https://www.manua.ls",
		Category:         "",
		Brand:            "",
		Debug:            false,
		RequestFloorMS:   2000,
		RelaxedFloorMS:   5000,
		BackoffThreshold: 5,
		BackoffCooldownS: 60,
		MaxAttempts:      3,
		MinPageText:      30,
		Cookie:           "",
		CookieFile:       "",
		UserAgent:        "",
		BypassCF:         false,
		OCRCommand:       "",
		URLCache:         "",
		Journal:          "",
		SpoolDir:         "",
	}
}

func SaveYAML(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

func loadYAML(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	return &c, nil
}

func LoadMerged(opts Options) (*Config, string, error) {
	if opts.IgnoreConfig {
		cfg := DefaultConfig()
		mergeConfig(cfg, opts)
		normalizeDefaults(cfg)
		return cfg, "(ignored config)", nil
	}

	activePath, err := ActiveConfigPath()
	if err == ErrNoConfig || activePath == "" {
		cfg := DefaultConfig()
		mergeConfig(cfg, opts)
		normalizeDefaults(cfg)
		return cfg, "(default config in memory)\nRun `manualgrab config init` to create an actual config\n", nil
	}
	if err != nil {
		return nil, "", err
	}

	cfg, err := loadYAML(activePath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config %s: %w", activePath, err)
	}

	mergeConfig(cfg, opts)
	normalizeDefaults(cfg)

	return cfg, activePath, nil
}

func mergeConfig(c *Config, o Options) {
	if o.Output != "" {
		c.Output = o.Output
	}
	if o.BaseURL != "" {
		c.BaseURL = o.BaseURL
	}
	if o.Category != "" {
		c.Category = o.Category
	}
	if o.Brand != "" {
		c.Brand = o.Brand
	}
	if o.Debug {
		c.Debug = true
	}
	if o.RequestFloorMS != 0 {
		c.RequestFloorMS = o.RequestFloorMS
	}
	if o.RelaxedFloorMS != 0 {
		c.RelaxedFloorMS = o.RelaxedFloorMS
	}
	if o.BackoffThreshold != 0 {
		c.BackoffThreshold = o.BackoffThreshold
	}
	if o.BackoffCooldownS != 0 {
		c.BackoffCooldownS = o.BackoffCooldownS
	}
	if o.RateMarker != "" {
		c.RateMarker = o.RateMarker
	}
	if o.MaxAttempts != 0 {
		c.MaxAttempts = o.MaxAttempts
	}
	if o.MinPageText != 0 {
		c.MinPageText = o.MinPageText
	}
	if o.Cookie != "" {
		c.Cookie = o.Cookie
	}
	if o.CookieFile != "" {
		c.CookieFile = o.CookieFile
	}
	if o.UserAgent != "" {
		c.UserAgent = o.UserAgent
	}
	if o.BypassCF {
		c.BypassCF = true
	}
	if o.OCRCommand != "" {
		c.OCRCommand = o.OCRCommand
	}
	if o.URLCache != "" {
		c.URLCache = o.URLCache
	}
	if o.Journal != "" {
		c.Journal = o.Journal
	}
	if o.SpoolDir != "" {
		c.SpoolDir = o.SpoolDir
	}
}

func normalizeDefaults(c *Config) {
	if c.Output == "" {
		c.Output = "."
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://www.manua.ls"
	}
	if c.RequestFloorMS <= 0 {
		c.RequestFloorMS = 2000
	}
	if c.RelaxedFloorMS <= 0 {
		c.RelaxedFloorMS = 5000
	}
	if c.BackoffThreshold <= 0 {
		c.BackoffThreshold = 5
	}
	if c.BackoffCooldownS <= 0 {
		c.BackoffCooldownS = 60
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.MinPageText <= 0 {
		c.MinPageText = 30
	}
	if c.RateMarker == "" {
		c.RateMarker = StatePath("rate_marker")
	}
	if c.URLCache == "" {
		c.URLCache = StatePath("manuals.json")
	}
	if c.Journal == "" {
		c.Journal = StatePath("journal.jsonl")
	}
	if c.SpoolDir == "" {
		c.SpoolDir = StatePath("spool")
	}
}

func (c *Config) Print() {
	fmt.Printf(" -output: %s\n", c.Output)
	fmt.Printf(" -base_url: %s\n", c.BaseURL)
	if c.Category != "" {
		fmt.Printf(" -category: %s\n", c.Category)
	}
	if c.Brand != "" {
		fmt.Printf(" -brand: %s\n", c.Brand)
	}
	if c.Debug {
		fmt.Printf(" -debug: %t\n", c.Debug)
	}
	fmt.Printf(" -request_floor_ms: %d\n", c.RequestFloorMS)
	fmt.Printf(" -relaxed_floor_ms: %d\n", c.RelaxedFloorMS)
	fmt.Printf(" -backoff_threshold: %d\n", c.BackoffThreshold)
	fmt.Printf(" -backoff_cooldown_s: %d\n", c.BackoffCooldownS)
	fmt.Printf(" -max_attempts: %d\n", c.MaxAttempts)
	if c.CookieFile != "" {
		fmt.Printf(" -cookie_file: %s\n", c.CookieFile)
	}
	if c.BypassCF {
		fmt.Printf(" -bypass_cf: %t\n", c.BypassCF)
	}
	if c.OCRCommand != "" {
		fmt.Printf(" -ocr_command: %s\n", c.OCRCommand)
	}
	fmt.Printf(" -rate_marker: %s\n", c.RateMarker)
	fmt.Printf(" -journal: %s\n", c.Journal)
}
