package dotenv

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Load reads .env files into the process environment without overriding
// variables that are already set. With no paths it reads DOTENV_PATH
// (comma separated) or ./.env. Missing files are skipped.
func Load(paths ...string) error {
	if len(paths) == 0 {
		if v := strings.TrimSpace(os.Getenv("DOTENV_PATH")); v != "" {
			paths = strings.Split(v, ",")
		} else {
			paths = []string{".env"}
		}
	}
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}
