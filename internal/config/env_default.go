//go:build !dev

package config

// Release builds only read the process environment.
func loadDotEnv(string) error {
	return nil
}
