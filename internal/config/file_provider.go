package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SecretMount is a directory of mounted secret files. Files maps configuration
// keys to file names inside Dir; a mount with no Files serves any key under its
// kebab-case name (DB_PASSWORD -> db-password).
type SecretMount struct {
	Dir   string
	Files map[string]string
}

// DefaultSecretMounts returns the volumes the query compiler expects under root:
// the analytics database credentials and the quota Redis credentials, each in
// its own directory with one file per field.
func DefaultSecretMounts(root string) []SecretMount {
	return []SecretMount{
		{
			Dir: filepath.Join(root, "database"),
			Files: map[string]string{
				"DB_HOST":     "host",
				"DB_PORT":     "port",
				"DB_NAME":     "dbname",
				"DB_USER":     "username",
				"DB_PASSWORD": "password",
				"DB_SSLMODE":  "sslmode",
			},
		},
		{
			Dir: filepath.Join(root, "redis"),
			Files: map[string]string{
				"REDIS_ADDR":     "addr",
				"REDIS_PASSWORD": "password",
			},
		},
	}
}

// FileProvider resolves keys from mounted secret files
type FileProvider struct {
	mounts []SecretMount
}

// NewFileProvider creates a provider over mounts, searched in order
func NewFileProvider(mounts ...SecretMount) *FileProvider {
	return &FileProvider{mounts: mounts}
}

func (m SecretMount) fileFor(key string) (string, bool) {
	if m.Files == nil {
		return strings.ToLower(strings.ReplaceAll(key, "_", "-")), true
	}
	name, ok := m.Files[key]
	return name, ok
}

// GetSecret returns the trimmed contents of the first mounted file serving key.
// A missing file is not an error.
func (f *FileProvider) GetSecret(ctx context.Context, key string) (string, error) {
	if len(f.mounts) == 0 {
		return "", fmt.Errorf("no secret mounts configured")
	}

	for _, mount := range f.mounts {
		name, ok := mount.fileFor(key)
		if !ok || !dirExists(mount.Dir) {
			continue
		}

		path := filepath.Join(mount.Dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", fmt.Errorf("failed to read secret file %s: %w", path, err)
		}
		if value := strings.TrimSpace(string(data)); value != "" {
			return value, nil
		}
	}
	return "", nil
}

func (f *FileProvider) Name() string {
	return "file"
}

// IsAvailable reports whether at least one mount directory exists
func (f *FileProvider) IsAvailable(ctx context.Context) bool {
	for _, mount := range f.mounts {
		if dirExists(mount.Dir) {
			return true
		}
	}
	return false
}

func dirExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
