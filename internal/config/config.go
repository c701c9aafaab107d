package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config carries all environment-driven settings. WhatsApp credentials are
// optional: when the token or phone number id is missing, outbound delivery
// is skipped with a warning instead of failing the process.
type Config struct {
	Port string
	Env  string

	VerifyToken               string
	WhatsAppToken             string
	PhoneNumberID             string
	WhatsAppBusinessAccountID string
	DefaultTestPhone          string
	DefaultRegion             string

	MediaDir string

	DBDriver   string // "sqlite" or "postgres"
	DBPath     string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
}

// LoadConfig reads the environment (and .env when present). It returns an
// error only for unrecoverable misconfiguration: a postgres driver selected
// without the credentials to reach it.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// .env is optional; real deployments set the environment directly.
	}

	cfg := &Config{
		Port:                      getEnv("PORT", "8080"),
		Env:                       getEnv("APP_ENV", "development"),
		VerifyToken:               getEnv("VERIFY_TOKEN", ""),
		WhatsAppToken:             getEnv("WHATSAPP_TOKEN", ""),
		PhoneNumberID:             getEnv("PHONE_NUMBER_ID", ""),
		WhatsAppBusinessAccountID: getEnv("WABA_ID", ""),
		DefaultTestPhone:          getEnv("DEFAULT_TEST_PHONE", ""),
		DefaultRegion:             getEnv("PHONE_REGION", "ES"),
		MediaDir:                  getEnv("MEDIA_DIR", "./media"),
		DBDriver:                  strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DBPath:                    getEnv("DB_PATH", "./whatsapp-crm.db"),
		DBHost:                    getEnv("DB_HOST", ""),
		DBPort:                    getEnv("DB_PORT", "5432"),
		DBUser:                    getEnv("DB_USER", ""),
		DBPassword:                getEnv("DB_PASSWORD", ""),
		DBName:                    getEnv("DB_NAME", ""),
		DBSSLMode:                 getEnv("DB_SSLMODE", "disable"),
	}

	switch cfg.DBDriver {
	case "sqlite":
		if cfg.DBPath == "" {
			return nil, fmt.Errorf("config: DB_PATH is required with the sqlite driver")
		}
	case "postgres":
		if cfg.DBHost == "" || cfg.DBUser == "" || cfg.DBName == "" {
			return nil, fmt.Errorf("config: DB_HOST, DB_USER and DB_NAME are required with the postgres driver")
		}
	default:
		return nil, fmt.Errorf("config: unknown DB_DRIVER %q", cfg.DBDriver)
	}

	return cfg, nil
}

// OutboundEnabled reports whether the provider credentials needed to send
// messages are present.
func (c *Config) OutboundEnabled() bool {
	return c.WhatsAppToken != "" && c.PhoneNumberID != ""
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
