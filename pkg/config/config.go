package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type OpenRouter struct {
	APIKey   string
	Base     string
	Model    string
	AppTitle string
	Referer  string
}

type Speech struct {
	APIKey string
	Base   string
	Model  string
}

type Scrape struct {
	APIKey    string
	Base      string
	DatasetID string
}

type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string

	OpenRouter OpenRouter
	Speech     Speech
	Scrape     Scrape

	TelegramToken string
	ObjectRoot    string

	WorkerConcurrency int
	ScrapePollSeconds int
	ScrapePollLimit   int
}

// Load reads environment variables, optionally from a .env file if present.
func Load() Config {
	// Try to load .env if it exists; ignore error if file not found
	_ = godotenv.Load()

	cfg := Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),
		OpenRouter: OpenRouter{
			APIKey:   os.Getenv("OPENROUTER_API_KEY"),
			Base:     getEnv("OPENROUTER_BASE", "https://openrouter.ai/api/v1"),
			Model:    getEnv("OPENROUTER_MODEL", "google/gemini-2.0-flash-001"),
			AppTitle: getEnv("OPENROUTER_APP_TITLE", "noteflow"),
			Referer:  os.Getenv("OPENROUTER_REFERER"),
		},
		Speech: Speech{
			APIKey: os.Getenv("SPEECH_API_KEY"),
			Base:   getEnv("SPEECH_BASE", "https://api.openai.com/v1"),
			Model:  getEnv("SPEECH_MODEL", "whisper-1"),
		},
		Scrape: Scrape{
			APIKey:    os.Getenv("SCRAPE_API_KEY"),
			Base:      getEnv("SCRAPE_BASE", "https://api.brightdata.com/datasets/v3"),
			DatasetID: os.Getenv("SCRAPE_DATASET_ID"),
		},
		TelegramToken:     os.Getenv("TELEGRAM_BOT_TOKEN"),
		ObjectRoot:        getEnv("OBJECT_ROOT", "./data/audio"),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 5),
		ScrapePollSeconds: getEnvInt("SCRAPE_POLL_SECONDS", 8),
		ScrapePollLimit:   getEnvInt("SCRAPE_POLL_LIMIT", 18),
	}
	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
