// Package dotenv reads .env files so the relay binaries can pick up
// RELAY_* and GEMINI_API_KEY settings without exporting them by hand.
package dotenv

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Load reads path and applies its KEY=VALUE pairs to the process
// environment. Variables already set in the environment win over the
// file. A missing file is not an error.
func Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("dotenv: read %s: %w", path, err)
	}

	vars, err := Parse(string(data))
	if err != nil {
		return fmt.Errorf("dotenv: %s: %w", path, err)
	}
	for key, val := range vars {
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, val); err != nil {
			return fmt.Errorf("dotenv: set %s: %w", key, err)
		}
	}
	return nil
}

// Parse extracts KEY=VALUE pairs from dotenv content. Blank lines and
// comment lines are skipped, an `export ` prefix is tolerated, and
// values may be single- or double-quoted. Unquoted values lose any
// trailing `#` comment.
func Parse(content string) (map[string]string, error) {
	vars := make(map[string]string)
	for n, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, rest, found := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" || strings.ContainsAny(key, " \t") {
			return nil, fmt.Errorf("line %d: not a KEY=VALUE pair", n+1)
		}
		vars[key] = parseValue(rest)
	}
	return vars, nil
}

func parseValue(raw string) string {
	val := strings.TrimSpace(raw)
	if len(val) >= 2 {
		if q := val[0]; (q == '"' || q == '\'') && val[len(val)-1] == q {
			return val[1 : len(val)-1]
		}
	}
	// Unquoted values end at an inline comment.
	if i := strings.Index(val, " #"); i >= 0 {
		val = strings.TrimSpace(val[:i])
	}
	return val
}
