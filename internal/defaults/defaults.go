// Package defaults locates the per-user data directory and the small files
// MuaTool keeps there.
//
// Platform paths:
//
//	macOS:   ~/Library/Application Support/MuaTool/
//	Windows: %AppData%\MuaTool\
//	Linux:   ~/.config/muatool/
//
// Override with MUATOOL_DATA_DIR environment variable.
package defaults

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
)

const (
	// DeviceIDFile holds the stable device identifier.
	DeviceIDFile = "device.id"

	// TempDeviceIDFile is used under os.TempDir when the data dir is unwritable.
	TempDeviceIDFile = "muatool_device.id"

	// ConfigFile is the optional user override for the embedded config.
	ConfigFile = "config.yaml"

	// LockFile enforces a single running instance.
	LockFile = "muatool.lock"

	partitionsDir = "partitions"
)

// DataDir returns the platform-appropriate data directory.
// Set MUATOOL_DATA_DIR to override.
func DataDir() (string, error) {
	if dir := os.Getenv("MUATOOL_DATA_DIR"); dir != "" {
		return dir, nil
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine config directory: %w", err)
	}

	// Linux: lowercase per XDG convention
	if runtime.GOOS == "linux" {
		return filepath.Join(configDir, "muatool"), nil
	}
	return filepath.Join(configDir, "MuaTool"), nil
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dir, nil
}

// DataPath joins name onto the data directory, falling back to the OS temp
// directory when the data directory cannot be determined.
func DataPath(name string) string {
	dir, err := DataDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "MuaTool", name)
	}
	return filepath.Join(dir, name)
}

var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// PartitionDir returns the user-data directory for a browser partition.
// The partition name is sanitized so "persist:tool_1_ahrefs" becomes
// "persist_tool_1_ahrefs".
func PartitionDir(partition string) string {
	name := unsafePathChars.ReplaceAllString(partition, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "default"
	}
	return DataPath(filepath.Join(partitionsDir, name))
}

// ReadDeviceID reads the persisted device id at path. It returns an empty
// string on any failure or when the value is shorter than 16 characters.
func ReadDeviceID(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	id := strings.TrimSpace(string(data))
	if len(id) < 16 {
		return ""
	}
	return id
}

// WriteDeviceID persists id to path, creating the parent directory.
func WriteDeviceID(path, id string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create device id dir: %w", err)
	}
	return os.WriteFile(path, []byte(id), 0644)
}
