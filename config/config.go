package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const dashboardConfigPath = "config/dashboard.yaml"

type Config struct {
	Dashboard        DashboardConfig
	Browser          BrowserConfig
	Scheduler        SchedulerConfig
	Export           ExportConfig
	SubscriptionFile string
	DBPath           string
	DatabaseURL      string
	HTTPAddr         string
	LogLevel         string
	LogFile          string
	Location         *time.Location
}

// DashboardConfig describes the target dashboard: where it lives and how its
// markup is located. Every list is tried in order.
type DashboardConfig struct {
	URL           string         `yaml:"url"`
	DashboardMark string         `yaml:"dashboard_marker"`
	LoginMark     string         `yaml:"login_marker"`
	Selectors     Selectors      `yaml:"selectors"`
	Consent       ConsentPhrases `yaml:"consent"`
}

type Selectors struct {
	SearchInputs  []string `yaml:"search_inputs"`
	ResultsTable  string   `yaml:"results_table"`
	NoResults     string   `yaml:"no_results"`
	SSOButton     string   `yaml:"sso_button"`
	UsernameInput string   `yaml:"username_input"`
	PasswordInput string   `yaml:"password_input"`
}

type ConsentPhrases struct {
	Indicators []string `yaml:"indicators"`
	AcceptAll  []string `yaml:"accept_all"`
	Accept     []string `yaml:"accept"`
	Avoid      []string `yaml:"avoid"`
}

type BrowserConfig struct {
	Headless        bool
	BatchSize       int
	PageLoadTimeout time.Duration
	ElementTimeout  time.Duration
	SearchWait      time.Duration
	TypeDelay       time.Duration
	ManualLoginWait time.Duration
	UserAgent       string
}

type SchedulerConfig struct {
	Cron string
}

type ExportConfig struct {
	Dir string
	S3  S3Config
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	loc, err := loadLocation(getEnv("TIMEZONE", "Asia/Kolkata"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Dashboard: DefaultDashboard(),
		Browser: BrowserConfig{
			Headless:        getEnvBool("HEADLESS", true),
			BatchSize:       getEnvInt("BATCH_SIZE", 3),
			PageLoadTimeout: getEnvMillis("PAGE_LOAD_TIMEOUT_MS", 15000),
			ElementTimeout:  getEnvMillis("ELEMENT_TIMEOUT_MS", 5000),
			SearchWait:      getEnvMillis("SEARCH_WAIT_MS", 1000),
			TypeDelay:       getEnvMillis("TYPE_DELAY_MS", 50),
			ManualLoginWait: getEnvDuration("MANUAL_LOGIN_WAIT", 30*time.Second),
			UserAgent: getEnv("USER_AGENT",
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
		},
		Scheduler: SchedulerConfig{
			Cron: os.Getenv("SCRAPE_CRON"),
		},
		Export: ExportConfig{
			Dir: getEnv("EXPORT_DIR", "exports"),
			S3: S3Config{
				Bucket:          os.Getenv("S3_BUCKET"),
				Region:          getEnv("S3_REGION", "us-east-1"),
				Endpoint:        os.Getenv("S3_ENDPOINT"),
				AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
				SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
			},
		},
		SubscriptionFile: getEnv("SUBSCRIPTION_FILE", "subscription.txt"),
		DBPath:           getEnv("DB_PATH", "scraper_data.db"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFile:          getEnv("LOG_FILE", "scraper.log"),
		Location:         loc,
	}

	if url := os.Getenv("DASHBOARD_URL"); url != "" {
		cfg.Dashboard.URL = url
	}

	if err := cfg.loadDashboardConfig(dashboardConfigPath); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultDashboard returns the built-in selectors and phrase lists.
func DefaultDashboard() DashboardConfig {
	return DashboardConfig{
		URL:           "https://webbuilder.pfizer/webbuilder/dashboard/",
		DashboardMark: "dashboard",
		LoginMark:     "login",
		Selectors: Selectors{
			SearchInputs: []string{
				`input[type="text"]`,
				`input[placeholder*="search"]`,
				`input[name*="search"]`,
				`input[class*="search"]`,
				`input:first-of-type`,
			},
			ResultsTable:  `table, .table, [role="table"]`,
			NoResults:     `.no-results, .empty-state, :has-text("No results found")`,
			SSOButton:     `button:has-text("SSO"), button:has-text("Single Sign"), a:has-text("SSO")`,
			UsernameInput: `input[name="username"], input[type="email"], input[id*="username"], input[id*="email"], input[placeholder*="username"], input[placeholder*="email"]`,
			PasswordInput: `input[name="password"], input[type="password"], input[id*="password"], input[placeholder*="password"]`,
		},
		Consent: ConsentPhrases{
			Indicators: []string{
				"We need your consent to proceed",
				"We Care About Your Privacy",
				"Wir benötigen Ihre Einwilligung, um fortzufahren",
				"Cookie Consent",
				"Privacy Settings",
				"Cookie Settings",
				"Manage Cookies",
				"We use cookies",
				"This website uses cookies",
				"Cookie Notice",
				"Privacy Notice",
				"Cookies and Privacy",
				"Your Privacy Choices",
			},
			AcceptAll: []string{
				"Accept All Cookies",
				"Accept all cookies",
				"Allow All Cookies",
				"Accept All",
				"Allow All",
				"Alle akzeptieren",
				"Tout accepter",
				"Aceptar todo",
				"Accetta tutti",
			},
			Accept: []string{
				"Accept All",
				"Accept all cookies",
				"Alle akzeptieren",
				"Tout accepter",
				"Aceptar todo",
				"Accetta tutti",
				"Accept",
				"Agree",
				"Allow All",
				"Allow all cookies",
				"OK",
				"Continue",
			},
			Avoid: []string{
				"Cookie Preferences",
				"Cookie Settings",
				"Manage Cookies",
				"Privacy Settings",
				"Customize",
				"Settings",
				"Preferences",
				"Choose",
				"Manage",
				"Reject",
				"Decline",
				"Deny",
			},
		},
	}
}

func (c *Config) Validate() error {
	if c.Browser.BatchSize < 1 {
		return fmt.Errorf("BATCH_SIZE must be at least 1, got %d", c.Browser.BatchSize)
	}
	if strings.TrimSpace(c.Dashboard.URL) == "" {
		return errors.New("dashboard URL is required")
	}
	if c.Dashboard.DashboardMark == "" {
		return errors.New("dashboard marker is required")
	}
	return nil
}

// loadDashboardConfig overlays non-empty fields from an optional YAML file.
func (c *Config) loadDashboardConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var override DashboardConfig
	if err := yaml.Unmarshal(data, &override); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	c.Dashboard.merge(override)
	return nil
}

func (d *DashboardConfig) merge(o DashboardConfig) {
	setString(&d.URL, o.URL)
	setString(&d.DashboardMark, o.DashboardMark)
	setString(&d.LoginMark, o.LoginMark)

	setList(&d.Selectors.SearchInputs, o.Selectors.SearchInputs)
	setString(&d.Selectors.ResultsTable, o.Selectors.ResultsTable)
	setString(&d.Selectors.NoResults, o.Selectors.NoResults)
	setString(&d.Selectors.SSOButton, o.Selectors.SSOButton)
	setString(&d.Selectors.UsernameInput, o.Selectors.UsernameInput)
	setString(&d.Selectors.PasswordInput, o.Selectors.PasswordInput)

	setList(&d.Consent.Indicators, o.Consent.Indicators)
	setList(&d.Consent.AcceptAll, o.Consent.AcceptAll)
	setList(&d.Consent.Accept, o.Consent.Accept)
	setList(&d.Consent.Avoid, o.Consent.Avoid)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setList(dst *[]string, v []string) {
	if len(v) > 0 {
		*dst = v
	}
}

func loadLocation(name string) (*time.Location, error) {
	loc, err := time.LoadLocation(name)
	if err == nil {
		return loc, nil
	}
	if name == "Asia/Kolkata" {
		return time.FixedZone("IST", 5*3600+30*60), nil
	}
	return nil, fmt.Errorf("load timezone %q: %w", name, err)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvMillis(key string, defaultMS int) time.Duration {
	return time.Duration(getEnvInt(key, defaultMS)) * time.Millisecond
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
