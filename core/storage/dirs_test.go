package storage

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
)

func TestResolveDirs(t *testing.T) {
	resetGlobalDirs()

	dirs, err := ResolveDirs()
	if err != nil {
		t.Fatalf("ResolveDirs failed: %v", err)
	}

	for name, dir := range map[string]string{
		"Config": dirs.Config,
		"Data":   dirs.Data,
	} {
		if dir == "" {
			t.Errorf("%s dir should not be empty", name)
		}
		if !strings.Contains(dir, AppName) {
			t.Errorf("%s dir should contain %q: %s", name, AppName, dir)
		}
	}
}

func TestResolveDirsXDGOverride(t *testing.T) {
	resetGlobalDirs()
	t.Cleanup(resetGlobalDirs)

	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)
	t.Setenv("XDG_DATA_HOME", filepath.Join(tmpDir, "data"))

	dirs, err := ResolveDirs()
	if err != nil {
		t.Fatalf("ResolveDirs failed: %v", err)
	}

	if want := filepath.Join(tmpDir, AppName); dirs.Config != want {
		t.Errorf("XDG config override failed: got %s, want %s", dirs.Config, want)
	}
	if want := filepath.Join(tmpDir, "data", AppName, "runs.db"); dirs.RunsDB() != want {
		t.Errorf("RunsDB: got %s, want %s", dirs.RunsDB(), want)
	}
}

func TestResolveProjectDirs(t *testing.T) {
	projectRoot := "/test/project"
	dirs := ResolveProjectDirs(projectRoot)

	if want := filepath.Join(projectRoot, ".coornet"); dirs.Root != want {
		t.Errorf("Root: got %s, want %s", dirs.Root, want)
	}
	if want := filepath.Join(projectRoot, ".coornet", "config.yaml"); dirs.Config != want {
		t.Errorf("Config: got %s, want %s", dirs.Config, want)
	}
	if want := filepath.Join(projectRoot, ".coornet", "local"); dirs.Local != want {
		t.Errorf("Local: got %s, want %s", dirs.Local, want)
	}
}

func TestEnsureDir(t *testing.T) {
	testDir := filepath.Join(t.TempDir(), "test", "nested", "dir")

	if err := EnsureDir(testDir, 0755); err != nil {
		t.Fatalf("EnsureDir failed: %v", err)
	}

	info, err := os.Stat(testDir)
	if err != nil {
		t.Fatalf("Dir not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("Created path is not a directory")
	}

	if err := EnsureDir(testDir, 0755); err != nil {
		t.Error("EnsureDir should be idempotent")
	}
}

func TestEnsureDirDefaultPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Permission test not applicable on Windows")
	}

	testDir := filepath.Join(t.TempDir(), "private")
	if err := EnsureDir(testDir, 0); err != nil {
		t.Fatalf("EnsureDir failed: %v", err)
	}

	info, err := os.Stat(testDir)
	if err != nil {
		t.Fatalf("Dir not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0700 {
		t.Errorf("Permissions: got %o, want 0700", perm)
	}
}

func TestEnsureParent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exports", "2024", "runs.db")
	if err := EnsureParent(path); err != nil {
		t.Fatalf("EnsureParent failed: %v", err)
	}
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Errorf("Parent not created: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("EnsureParent should not create the file itself")
	}
}

func TestDirsHelperMethods(t *testing.T) {
	dirs := &Dirs{
		Config: "/config",
		Data:   "/data",
	}

	tests := []struct {
		name, got, want string
	}{
		{"ConfigDir", dirs.ConfigDir("sub"), "/config/sub"},
		{"DataDir", dirs.DataDir("a", "b"), "/data/a/b"},
		{"UserConfigFile", dirs.UserConfigFile(), "/config/config.yaml"},
		{"RunsDB", dirs.RunsDB(), "/data/runs.db"},
		{"RunReport", dirs.RunReport("abc"), "/data/runs/abc.json"},
	}
	for _, tt := range tests {
		if filepath.ToSlash(tt.got) != tt.want {
			t.Errorf("%s: got %s, want %s", tt.name, tt.got, tt.want)
		}
	}
}

func TestEnsureAll(t *testing.T) {
	tmpDir := t.TempDir()
	dirs := &Dirs{
		Config: filepath.Join(tmpDir, "config"),
		Data:   filepath.Join(tmpDir, "data"),
	}

	if err := dirs.EnsureAll(); err != nil {
		t.Fatalf("EnsureAll failed: %v", err)
	}

	for _, path := range []string{dirs.Config, dirs.Data, dirs.DataDir("runs")} {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			t.Errorf("Dir should exist: %s", path)
		}
	}
}

func resetGlobalDirs() {
	globalDirs = nil
	globalDirsOnce = sync.Once{}
	globalDirsErr = nil
}
