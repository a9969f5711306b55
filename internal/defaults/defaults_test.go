package defaults

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDataDirOverride(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("MUATOOL_DATA_DIR", tmp)

	dir, err := DataDir()
	if err != nil {
		t.Fatalf("DataDir failed: %v", err)
	}
	if dir != tmp {
		t.Errorf("Expected %s, got %s", tmp, dir)
	}
}

func TestEnsureDataDir(t *testing.T) {
	tmp := filepath.Join(t.TempDir(), "nested", "muatool")
	t.Setenv("MUATOOL_DATA_DIR", tmp)

	dir, err := EnsureDataDir()
	if err != nil {
		t.Fatalf("EnsureDataDir failed: %v", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("data dir not created: %v", err)
	}
}

func TestDeviceIDRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", DeviceIDFile)

	if got := ReadDeviceID(path); got != "" {
		t.Fatalf("expected empty id for missing file, got %q", got)
	}

	id := "0123456789abcdef0123456789abcdef"
	if err := WriteDeviceID(path, id); err != nil {
		t.Fatalf("WriteDeviceID failed: %v", err)
	}
	if got := ReadDeviceID(path); got != id {
		t.Errorf("expected %s, got %s", id, got)
	}
}

func TestReadDeviceIDRejectsShortValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), DeviceIDFile)
	if err := os.WriteFile(path, []byte("  short  \n"), 0644); err != nil {
		t.Fatal(err)
	}
	if got := ReadDeviceID(path); got != "" {
		t.Errorf("expected short id to be ignored, got %q", got)
	}
}

func TestPartitionDirSanitizes(t *testing.T) {
	t.Setenv("MUATOOL_DATA_DIR", t.TempDir())

	dir := PartitionDir("persist:tool_42_ahrefs")
	base := filepath.Base(dir)
	if base != "persist_tool_42_ahrefs" {
		t.Errorf("unexpected partition dir name %q", base)
	}
	if !strings.Contains(dir, "partitions") {
		t.Errorf("expected partitions parent in %q", dir)
	}
}
