package config

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
)

// Environment variable names for every secret the service can use.
const (
	EnvDoubaoKey     = "DOUBAO_API_KEY"
	EnvClaudeKey     = "CLAUDE_API_KEY"
	EnvBinanceKey    = "BINANCE_API_KEY"
	EnvBinanceSecret = "BINANCE_API_SECRET"
	EnvTelegramToken = "TELEGRAM_BOT_TOKEN"
	EnvTelegramChat  = "TELEGRAM_CHAT_ID"
)

// envCandidates are tried in order; the first existing file wins. Running
// from the repo root, a config/ subdirectory, or one level down all work.
var envCandidates = []string{".env", "config/.env", "../.env"}

// LoadDotEnv loads the first .env file found among the candidate paths into
// the process environment. Variables already set in the environment win.
func LoadDotEnv() {
	for _, path := range envCandidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			log.Printf("Warning: failed to load %s: %v", path, err)
			continue
		}
		log.Printf("Loaded environment from %s", path)
		return
	}
	log.Println("Warning: no .env file found, using system environment variables")
}

// ValidateEnv checks that the secrets the service cannot run without are
// present and logs a masked view of what it found. Telegram credentials are
// hard requirements (the command surface is the only way in); everything
// else degrades per-feature.
func ValidateEnv() error {
	var missing []string
	for _, key := range []string{EnvTelegramToken, EnvTelegramChat} {
		if os.Getenv(key) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}

	if os.Getenv(EnvDoubaoKey) == "" && os.Getenv(EnvClaudeKey) == "" {
		return fmt.Errorf("no LLM API key configured: set %s or %s", EnvDoubaoKey, EnvClaudeKey)
	}

	secrets := []string{
		EnvDoubaoKey, EnvClaudeKey,
		EnvBinanceKey, EnvBinanceSecret,
		EnvTelegramToken, EnvTelegramChat,
	}
	log.Println("--- Environment ---")
	for _, key := range secrets {
		val := os.Getenv(key)
		if val == "" {
			log.Printf("%s=(unset)", key)
			continue
		}
		log.Printf("%s=%s", key, maskSecret(val))
	}
	log.Println("-------------------")
	return nil
}

// maskSecret shows only the last 4 characters of a secret.
func maskSecret(val string) string {
	if len(val) > 4 {
		return "***" + val[len(val)-4:]
	}
	return "***"
}
