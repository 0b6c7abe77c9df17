// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets resolves API credentials. Keys come from the process
// environment, from .env files, or from a directory of plain-text files in
// which each filename is a key name and the trimmed contents are its value.
//
// Supported key files: openai-api-key, semantic-scholar-api-key.
package secrets

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Credential names.
const (
	OpenAIKeyFile = "openai-api-key"
	OpenAIKeyEnv  = "OPENAI_API_KEY"

	SemanticScholarKeyFile = "semantic-scholar-api-key"
	SemanticScholarKeyEnv  = "SEMANTIC_SCHOLAR_API_KEY"
)

// Load reads all files in dir and returns a map of filename to trimmed contents.
// A missing directory returns an empty map. Unreadable files are logged and
// skipped.
func Load(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	secrets := make(map[string]string)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			slog.Warn("could not read secret", "name", name, "error", err)
			continue
		}
		if value := strings.TrimSpace(string(data)); value != "" {
			secrets[name] = value
		}
	}
	return secrets, nil
}

// LoadDotenv sets environment variables from the given .env files. Variables
// already present in the environment keep their values, and missing files
// are ignored.
func LoadDotenv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// OpenAIKey returns the API key from OPENAI_API_KEY, falling back to the
// openai-api-key file in fromDir. It returns "" when neither is set.
func OpenAIKey(fromDir map[string]string) string {
	return lookup(fromDir, OpenAIKeyEnv, OpenAIKeyFile)
}

// SemanticScholarKey returns the key from SEMANTIC_SCHOLAR_API_KEY, falling
// back to the semantic-scholar-api-key file. The API works without a key at
// a lower rate limit, so "" is a valid result.
func SemanticScholarKey(fromDir map[string]string) string {
	return lookup(fromDir, SemanticScholarKeyEnv, SemanticScholarKeyFile)
}

func lookup(fromDir map[string]string, env, file string) string {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		return v
	}
	return fromDir[file]
}
