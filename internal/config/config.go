package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"

	"github.com/iamhuraira/pharmaKhata-sub000/internal/money"
)

type Config struct {
	Port                   string
	AllowedOrigin          string
	DatabaseURL            string
	SQLitePath             string
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	SummaryCacheTTLSeconds int
	AuthSecret             string
	AccessTokenTTLMinutes  int
	ManagerPIN             string
	LogMode                string
	LedgerTimezone         string
	BalanceDriftTolerance  money.Amount
	SeedDemoData           bool
}

// Load reads the process environment, after merging a .env file from the
// working directory when one exists. Variables already set win over .env.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	summaryTTL, err := strconv.Atoi(getEnv("SUMMARY_CACHE_TTL_SECONDS", "300"))
	if err != nil || summaryTTL < 1 {
		summaryTTL = 300
	}
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	tolerance, err := money.Parse(getEnv("BALANCE_DRIFT_TOLERANCE", "0"))
	if err != nil {
		tolerance = 0
	}
	seed, err := strconv.ParseBool(getEnv("SEED_DEMO_DATA", "true"))
	if err != nil {
		seed = true
	}

	return Config{
		Port:                   getEnv("PORT", "8080"),
		AllowedOrigin:          getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		SQLitePath:             strings.TrimSpace(os.Getenv("SQLITE_PATH")),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                redisDB,
		SummaryCacheTTLSeconds: summaryTTL,
		AuthSecret:             strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:  tokenTTL,
		ManagerPIN:             strings.TrimSpace(os.Getenv("MANAGER_PIN")),
		LogMode:                getEnv("LOG_MODE", "production"),
		LedgerTimezone:         getEnv("LEDGER_TIMEZONE", "Asia/Karachi"),
		BalanceDriftTolerance:  tolerance.Abs(),
		SeedDemoData:           seed,
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) SummaryTTL() time.Duration {
	return time.Duration(c.SummaryCacheTTLSeconds) * time.Second
}

func (c Config) TokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

// Location resolves LEDGER_TIMEZONE, the zone ledger months and days are
// counted in.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.LedgerTimezone)
	if err != nil {
		return nil, fmt.Errorf("LEDGER_TIMEZONE %q: %w", c.LedgerTimezone, err)
	}
	return loc, nil
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
