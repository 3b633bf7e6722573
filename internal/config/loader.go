package config

import "os"

const envFileVar = "ADDRSCAN_ENV_FILE"

// LoadFromEnv reads the process environment. Dev builds first merge a dotenv
// file, ADDRSCAN_ENV_FILE or ./.env, without overriding variables already set.
func LoadFromEnv() (Config, error) {
	path := os.Getenv(envFileVar)
	if path == "" {
		path = ".env"
	}
	if err := loadDotEnv(path); err != nil {
		return Config{}, err
	}
	return Load(FromEnviron())
}
