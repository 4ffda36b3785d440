package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config holds the runtime settings of the tracker
type Config struct {
	ServerPort     string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string
	CurrencySymbol string
	SeedDefaults   bool
	ImportDir      string // Empty disables the import inbox
}

// Load reads the configuration from the environment, after applying ./.env if present.
func Load() *Config {
	LoadDotEnv(".env")
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		RedisAddr:      getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvAsInt("REDIS_DB", 0),
		RedisKeyPrefix: getEnv("REDIS_KEY_PREFIX", "tutor:"),
		CurrencySymbol: getEnv("CURRENCY_SYMBOL", "₪"),
		SeedDefaults:   getEnvAsBool("SEED_DEFAULTS", true),
		ImportDir:      getEnv("IMPORT_DIR", ""),
	}
}

// LoadDotEnv loads key=value pairs from path into the environment
// without overwriting variables that are already set. Lines starting with # are ignored.
func LoadDotEnv(path string) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return // no .env file
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// split on first '='
		if eq := strings.IndexByte(line, '='); eq > 0 {
			key := strings.TrimSpace(line[:eq])
			val := strings.Trim(strings.TrimSpace(line[eq+1:]), `"`)
			if _, exists := os.LookupEnv(key); !exists {
				_ = os.Setenv(key, val)
			}
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return defaultValue
}
