package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	Environment string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Server
	Port        string
	FrontendURL string

	// Game Settings
	InitialClockSeconds int
	TurnBudgetSeconds   int
	ClockPolicy         string
	MinStakeAmount      int
	WinnerSharePercent  int

	// M-Pesa (Daraja)
	DarajaBaseURL        string
	DarajaConsumerKey    string
	DarajaConsumerSecret string
	DarajaShortcode      string
	DarajaPasskey        string
	DarajaInitiatorName  string
	DarajaSecurityCred   string
	CallbackBaseURL      string

	// Security
	JWTSecret         string
	SessionTimeoutMin int
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	return &Config{
		// Environment
		Environment: getEnv("APP_ENV", "development"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", "postgres://localhost:5432/playdama?sslmode=disable"),

		// Redis
		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),

		// Server
		Port:        getEnv("APP_PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:5173"),

		// Game Settings
		InitialClockSeconds: getEnvInt("INITIAL_CLOCK_SECONDS", 300),
		TurnBudgetSeconds:   getEnvInt("TURN_BUDGET_SECONDS", 120),
		ClockPolicy:         getEnv("CLOCK_POLICY", "total_budget"),
		MinStakeAmount:      getEnvInt("MIN_STAKE_AMOUNT", 10),
		WinnerSharePercent:  getEnvInt("WINNER_SHARE_PERCENTAGE", 80),

		// M-Pesa
		DarajaBaseURL:        getEnv("DARAJA_BASE_URL", "https://sandbox.safaricom.co.ke"),
		DarajaConsumerKey:    getEnv("DARAJA_CONSUMER_KEY", ""),
		DarajaConsumerSecret: getEnv("DARAJA_CONSUMER_SECRET", ""),
		DarajaShortcode:      getEnv("DARAJA_SHORTCODE", "174379"),
		DarajaPasskey:        getEnv("DARAJA_PASSKEY", ""),
		DarajaInitiatorName:  getEnv("DARAJA_INITIATOR_NAME", "testapi"),
		DarajaSecurityCred:   getEnv("DARAJA_SECURITY_CREDENTIAL", ""),
		CallbackBaseURL:      getEnv("CALLBACK_BASE_URL", "http://localhost:8080"),

		// Security
		JWTSecret:         getEnv("JWT_SECRET", "change-me-in-production"),
		SessionTimeoutMin: getEnvInt("SESSION_TIMEOUT_MINUTES", 30),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
