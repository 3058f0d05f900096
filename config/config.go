package config

import (
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds the full application configuration loaded from environment variables or .env file.
//
// It is composed of smaller structs, one per pipeline concern.
//
// Example ENV:
//
//	DATA_DIR=./data
//	PROXY_LIST_PATH=./proxies/proxy_list.txt
//	SCREENER_URL=https://finance.yahoo.com/screener/e571efd8-2e40-41be-8401-0aef2dcd52b3
//	HISTORY_URL=https://query1.finance.yahoo.com/v8/finance/chart
//	REFRESH_MAX_AGE_DAYS=7
//	POSTGRES_ENABLED=false
type Config struct {
	DataDir  string
	Proxy    ProxyConfig
	Screener ScreenerConfig
	History  HistoryConfig
	Panel    PanelConfig
	Server   ServerConfig
	Postgres PostgresConfig
	Recorder RecorderConfig
	Schedule ScheduleConfig
}

// ProxyConfig controls the proxy pool and the shared outbound transport.
type ProxyConfig struct {
	ListPath      string
	EchoURL       string        // identity-echo endpoint used by health checks
	CheckDelay    time.Duration // pause between health checks
	CheckParallel int
	VerifySample  int
	RatePerSec    float64 // per-proxy request rate; 0 disables pacing
	HTTPTimeout   time.Duration
}

// ScreenerConfig drives the paginated symbol discovery.
type ScreenerConfig struct {
	URL            string
	PageSize       int
	FailureCeiling int
	Delay          time.Duration
}

// HistoryConfig drives per-symbol history fetching and the staleness policy.
type HistoryConfig struct {
	URL            string
	FailureCeiling int
	Delay          time.Duration
	MaxAgeDays     int
	Parallel       int
}

// PanelConfig tunes the monthly aggregation.
type PanelConfig struct {
	FillGaps bool
}

// ServerConfig holds HTTP server settings such as the port to listen on.
type ServerConfig struct {
	Port string
}

// PostgresConfig defines connection details for PostgreSQL.
//
// When Enabled is false the panel is only written to disk and the API
// serves the latest panel file instead.
type PostgresConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	URL      string
}

// RecorderConfig locates the SQLite run ledger. An empty path disables it.
type RecorderConfig struct {
	SQLitePath string
}

// ScheduleConfig holds the cron expressions (with seconds) for daemon mode.
type ScheduleConfig struct {
	UniverseCron string
	RefreshCron  string
}

// AppConfig is the globally accessible configuration instance.
//
// It is populated once via LoadConfig() and used throughout the application.
var AppConfig Config

// LoadConfig initializes the global AppConfig by reading from .env file
// or directly from environment variables.
//
// Precedence (from lowest to highest):
//  1. Defaults set in this function.
//  2. Values from .env file (if present).
//  3. Environment variables.
//
// Fatal exit:
//   - If required variables are missing or out of range, validateConfig() terminates
//     the app with a descriptive log message.
func LoadConfig() {
	setDefaults()

	// Optionally read from .env if present (common in local dev)
	viper.SetConfigFile(".env")
	_ = viper.ReadInConfig() // ignore error if no .env

	viper.AutomaticEnv()

	AppConfig = fromViper()

	AppConfig.Postgres.URL = fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		AppConfig.Postgres.User,
		AppConfig.Postgres.Password,
		AppConfig.Postgres.Host,
		AppConfig.Postgres.Port,
		AppConfig.Postgres.DBName,
		AppConfig.Postgres.SSLMode,
	)

	validateConfig()
}

func setDefaults() {
	viper.SetDefault("DATA_DIR", "./data")

	viper.SetDefault("PROXY_LIST_PATH", filepath.Join("proxies", "proxy_list.txt"))
	viper.SetDefault("PROXY_ECHO_URL", "https://api.ipify.org/")
	viper.SetDefault("PROXY_CHECK_DELAY", "100ms")
	viper.SetDefault("PROXY_CHECK_PARALLEL", 1)
	viper.SetDefault("PROXY_VERIFY_SAMPLE", 10)
	viper.SetDefault("PROXY_RATE_PER_SEC", 0)
	viper.SetDefault("HTTP_TIMEOUT", "30s")

	viper.SetDefault("SCREENER_URL", "https://finance.yahoo.com/screener/e571efd8-2e40-41be-8401-0aef2dcd52b3")
	viper.SetDefault("SCREENER_PAGE_SIZE", 250)
	viper.SetDefault("SCREENER_FAILURE_CEILING", 5)
	viper.SetDefault("SCREENER_DELAY", "250ms")

	viper.SetDefault("HISTORY_URL", "https://query1.finance.yahoo.com/v8/finance/chart")
	viper.SetDefault("HISTORY_FAILURE_CEILING", 5)
	viper.SetDefault("HISTORY_DELAY", "100ms")
	viper.SetDefault("REFRESH_MAX_AGE_DAYS", 7)
	viper.SetDefault("REFRESH_PARALLEL", 1)

	viper.SetDefault("PANEL_FILL_GAPS", false)

	viper.SetDefault("SERVER_PORT", "8080")

	viper.SetDefault("POSTGRES_ENABLED", false)
	viper.SetDefault("POSTGRES_HOST", "localhost")
	viper.SetDefault("POSTGRES_PORT", 5432)
	viper.SetDefault("POSTGRES_USER", "postgres")
	viper.SetDefault("POSTGRES_PASSWORD", "postgres")
	viper.SetDefault("POSTGRES_DB", "equitypanel")
	viper.SetDefault("POSTGRES_SSLMODE", "disable")

	viper.SetDefault("RECORDER_SQLITE_PATH", filepath.Join("data", "runs.db"))

	viper.SetDefault("SCHEDULE_UNIVERSE_CRON", "0 0 5 * * 1")
	viper.SetDefault("SCHEDULE_REFRESH_CRON", "0 0 6 * * 1-5")
}

func fromViper() Config {
	return Config{
		DataDir: viper.GetString("DATA_DIR"),
		Proxy: ProxyConfig{
			ListPath:      viper.GetString("PROXY_LIST_PATH"),
			EchoURL:       viper.GetString("PROXY_ECHO_URL"),
			CheckDelay:    viper.GetDuration("PROXY_CHECK_DELAY"),
			CheckParallel: viper.GetInt("PROXY_CHECK_PARALLEL"),
			VerifySample:  viper.GetInt("PROXY_VERIFY_SAMPLE"),
			RatePerSec:    viper.GetFloat64("PROXY_RATE_PER_SEC"),
			HTTPTimeout:   viper.GetDuration("HTTP_TIMEOUT"),
		},
		Screener: ScreenerConfig{
			URL:            viper.GetString("SCREENER_URL"),
			PageSize:       viper.GetInt("SCREENER_PAGE_SIZE"),
			FailureCeiling: viper.GetInt("SCREENER_FAILURE_CEILING"),
			Delay:          viper.GetDuration("SCREENER_DELAY"),
		},
		History: HistoryConfig{
			URL:            viper.GetString("HISTORY_URL"),
			FailureCeiling: viper.GetInt("HISTORY_FAILURE_CEILING"),
			Delay:          viper.GetDuration("HISTORY_DELAY"),
			MaxAgeDays:     viper.GetInt("REFRESH_MAX_AGE_DAYS"),
			Parallel:       viper.GetInt("REFRESH_PARALLEL"),
		},
		Panel: PanelConfig{
			FillGaps: viper.GetBool("PANEL_FILL_GAPS"),
		},
		Server: ServerConfig{
			Port: viper.GetString("SERVER_PORT"),
		},
		Postgres: PostgresConfig{
			Enabled:  viper.GetBool("POSTGRES_ENABLED"),
			Host:     viper.GetString("POSTGRES_HOST"),
			Port:     viper.GetInt("POSTGRES_PORT"),
			User:     viper.GetString("POSTGRES_USER"),
			Password: viper.GetString("POSTGRES_PASSWORD"),
			DBName:   viper.GetString("POSTGRES_DB"),
			SSLMode:  viper.GetString("POSTGRES_SSLMODE"),
		},
		Recorder: RecorderConfig{
			SQLitePath: viper.GetString("RECORDER_SQLITE_PATH"),
		},
		Schedule: ScheduleConfig{
			UniverseCron: viper.GetString("SCHEDULE_UNIVERSE_CRON"),
			RefreshCron:  viper.GetString("SCHEDULE_REFRESH_CRON"),
		},
	}
}

// problems returns the keys whose values are missing or out of range.
func problems(c Config) []string {
	var bad []string

	if c.DataDir == "" {
		bad = append(bad, "DATA_DIR")
	}
	if c.Proxy.ListPath == "" {
		bad = append(bad, "PROXY_LIST_PATH")
	}
	if c.Proxy.EchoURL == "" {
		bad = append(bad, "PROXY_ECHO_URL")
	}
	if c.Proxy.CheckParallel < 1 {
		bad = append(bad, "PROXY_CHECK_PARALLEL")
	}
	if c.Proxy.RatePerSec < 0 {
		bad = append(bad, "PROXY_RATE_PER_SEC")
	}
	if c.Proxy.HTTPTimeout <= 0 {
		bad = append(bad, "HTTP_TIMEOUT")
	}
	if c.Screener.URL == "" {
		bad = append(bad, "SCREENER_URL")
	}
	if c.Screener.PageSize < 1 {
		bad = append(bad, "SCREENER_PAGE_SIZE")
	}
	if c.Screener.FailureCeiling < 1 {
		bad = append(bad, "SCREENER_FAILURE_CEILING")
	}
	if c.History.URL == "" {
		bad = append(bad, "HISTORY_URL")
	}
	if c.History.FailureCeiling < 1 {
		bad = append(bad, "HISTORY_FAILURE_CEILING")
	}
	if c.History.MaxAgeDays < 0 {
		bad = append(bad, "REFRESH_MAX_AGE_DAYS")
	}
	if c.History.Parallel < 1 {
		bad = append(bad, "REFRESH_PARALLEL")
	}
	if c.Server.Port == "" {
		bad = append(bad, "SERVER_PORT")
	}
	if c.Postgres.Enabled {
		if c.Postgres.Host == "" {
			bad = append(bad, "POSTGRES_HOST")
		}
		if c.Postgres.Port == 0 {
			bad = append(bad, "POSTGRES_PORT")
		}
		if c.Postgres.User == "" {
			bad = append(bad, "POSTGRES_USER")
		}
		if c.Postgres.DBName == "" {
			bad = append(bad, "POSTGRES_DB")
		}
	}
	return bad
}

// validateConfig terminates the application if AppConfig has missing or
// out-of-range values, listing every offending key.
func validateConfig() {
	if bad := problems(AppConfig); len(bad) > 0 {
		log.Fatalf("❌ Missing or invalid configuration: %v\n", bad)
	}
}
