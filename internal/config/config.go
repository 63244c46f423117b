package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPPort    string
	DatabaseURL string
	LogLevel    string
	NonceSecret string
	SiteSecret  string
	NonceTTL    time.Duration

	OpenAIAPIKey      string
	GeminiAPIKey      string
	DeepSeekAPIKey    string
	GoogleAPIKey      string
	GoogleCX          string
	GoogleServicesKey string
	ModelMode         string

	BrandName  string
	BrandColor string
	BrandTheme string

	KnowledgePath     string
	ProfilesPath      string
	ArticlesCachePath string

	RedisURL        string
	CacheTTL        time.Duration
	RateLimitPoints int
	RateLimitWindow time.Duration

	Profiles []Profile
	SiteURLs map[string]string
}

var AppConfig Config

// LoadConfig reads the environment (and an optional .env file) into AppConfig,
// then loads the external database profiles file if one is configured.
func LoadConfig() {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	AppConfig = FromEnv()

	if AppConfig.ProfilesPath != "" {
		pf, err := LoadProfiles(AppConfig.ProfilesPath)
		if err != nil {
			log.Printf("Failed to load database profiles from %s: %v", AppConfig.ProfilesPath, err)
		} else {
			AppConfig.Profiles = pf.ActiveProfiles()
			AppConfig.SiteURLs = pf.SiteURLMap()
		}
	}
	if AppConfig.SiteURLs == nil {
		AppConfig.SiteURLs = (&ProfilesFile{}).SiteURLMap()
	}

	if err := AppConfig.Validate(); err != nil {
		log.Fatal(err)
	}
}

// FromEnv builds a Config from environment variables only.
func FromEnv() Config {
	return Config{
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", "alfaai.db"),
		LogLevel:    getEnv("LOG_LEVEL", "INFO"),
		NonceSecret: getEnv("NONCE_SECRET", ""),
		SiteSecret:  getEnv("SITE_SECRET", ""),
		NonceTTL:    getEnvAsDuration("NONCE_TTL", 12*time.Hour),

		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		DeepSeekAPIKey:    getEnv("DEEPSEEK_API_KEY", ""),
		GoogleAPIKey:      getEnv("GOOGLE_API_KEY", ""),
		GoogleCX:          getEnv("GOOGLE_CX", ""),
		GoogleServicesKey: getEnv("GOOGLE_SERVICES_KEY", ""),
		ModelMode:         strings.ToLower(getEnv("MODEL_MODE", "auto")),

		BrandName:  getEnv("BRAND_NAME", "AlfaAI Professional"),
		BrandColor: getEnv("BRAND_COLOR", "#2563eb"),
		BrandTheme: getEnv("BRAND_THEME", "auto"),

		KnowledgePath:     getEnv("KNOWLEDGE_PATH", "data/alfassa-knowledge.json"),
		ProfilesPath:      getEnv("PROFILES_PATH", ""),
		ArticlesCachePath: getEnv("ARTICLES_CACHE_PATH", "cache/alfassa-articles.json"),

		RedisURL:        getEnv("REDIS_URL", ""),
		CacheTTL:        getEnvAsDuration("CACHE_TTL", 10*time.Minute),
		RateLimitPoints: getEnvAsInt("RATE_LIMIT_POINTS", 100),
		RateLimitWindow: getEnvAsDuration("RATE_LIMIT_WINDOW", 60*time.Second),
	}
}

// Validate collects every missing required value into one error.
func (c Config) Validate() error {
	var missing []string
	if c.NonceSecret == "" {
		missing = append(missing, "NONCE_SECRET")
	}
	if c.HTTPPort == "" {
		missing = append(missing, "HTTP_PORT")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
