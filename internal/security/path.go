package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// configExtensions are the formats the config loader can decode.
var configExtensions = map[string]bool{
	".yaml": true,
	".yml":  true,
	".json": true,
	".toml": true,
}

// ValidateFilePath rejects empty paths, NUL bytes and directory traversal.
func ValidateFilePath(path string) error {
	if path == "" {
		return fmt.Errorf("file path cannot be empty")
	}
	if strings.ContainsRune(path, '\x00') {
		return fmt.Errorf("file path contains NUL byte")
	}

	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("path contains directory traversal: %s", path)
		}
	}

	return nil
}

// ValidateConfigPath applies ValidateFilePath and also requires an extension
// the config loader understands, since the format is chosen by extension.
func ValidateConfigPath(path string) error {
	if err := ValidateFilePath(path); err != nil {
		return err
	}
	ext := strings.ToLower(filepath.Ext(path))
	if !configExtensions[ext] {
		return fmt.Errorf("unsupported config file type %q: use .yaml, .yml, .json or .toml", ext)
	}
	return nil
}
