package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

type Config struct {
	GeminiAPIKey  string
	GeminiModel   string
	DatabasePath  string
	HTTPPort      string
	MediaDir      string
	PromptPath    string
	JWTSecret     string
	AdminUser     string
	AdminPassHash string
	LogLevel      string
}

// Load reads configuration from the environment (and an optional .env file)
// and validates it. Missing required credentials are an error at startup,
// not on first use.
func Load() (*Config, error) {
	_ = godotenv.Load() // .env is optional; real env vars win

	cfg := &Config{
		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-1.5-pro"),
		DatabasePath: getEnv("DATABASE_PATH", "database.sqlite"),
		HTTPPort:     getEnv("HTTP_PORT", "3000"),
		MediaDir:     getEnv("MEDIA_DIR", "chat/image"),
		PromptPath:   getEnv("USER_PROMPT_PATH", "user_prompt.txt"),
		JWTSecret:    getEnv("JWT_SECRET", ""),
		AdminUser:    getEnv("ADMIN_USER", ""),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}

	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if cfg.AdminUser == "" {
		return nil, fmt.Errorf("ADMIN_USER environment variable is required")
	}

	adminPass := getEnv("ADMIN_PASS", "")
	if adminPass == "" {
		return nil, fmt.Errorf("ADMIN_PASS environment variable is required")
	}
	hash, err := normalizePassword(adminPass)
	if err != nil {
		return nil, fmt.Errorf("failed to process ADMIN_PASS: %w", err)
	}
	cfg.AdminPassHash = hash

	return cfg, nil
}

// normalizePassword accepts either a bcrypt hash or a plaintext password.
// Plaintext is hashed once here so the rest of the process only ever holds
// the hash.
func normalizePassword(pass string) (string, error) {
	if strings.HasPrefix(pass, "$2a$") || strings.HasPrefix(pass, "$2b$") || strings.HasPrefix(pass, "$2y$") {
		return pass, nil
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
