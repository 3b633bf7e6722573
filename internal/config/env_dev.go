//go:build dev

package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && path == ".env" {
			return nil
		}
		return fmt.Errorf("env file %s: %w", path, err)
	}
	return godotenv.Load(path)
}
