// Package storage provides platform-native directory resolution with XDG support.
package storage

import (
	"os"
	"path/filepath"
	"sync"
)

// AppName names the per-user and per-project directories.
const AppName = "coornet"

// Dirs provides platform-native directory resolution with XDG support.
type Dirs struct {
	Config string // User configuration (config.yaml)
	Data   string // Persistent data (run exports)
}

// ProjectDirs returns project-local directories.
type ProjectDirs struct {
	Root   string // .coornet/
	Config string // .coornet/config.yaml (committed)
	Local  string // .coornet/local/ (gitignored)
}

var (
	globalDirs     *Dirs
	globalDirsOnce sync.Once
	globalDirsErr  error
)

// ResolveDirs returns platform-appropriate directories.
// Results are cached after first call.
func ResolveDirs() (*Dirs, error) {
	globalDirsOnce.Do(func() {
		globalDirs, globalDirsErr = resolveDirsImpl()
	})
	return globalDirs, globalDirsErr
}

func resolveDirsImpl() (*Dirs, error) {
	dirs := &Dirs{
		Config: resolveDir("XDG_CONFIG_HOME", platformConfigDefault()),
		Data:   resolveDir("XDG_DATA_HOME", platformDataDefault()),
	}
	return dirs, nil
}

func resolveDir(envVar, fallback string) string {
	if dir := os.Getenv(envVar); dir != "" {
		return filepath.Join(dir, AppName)
	}
	return fallback
}

// ResolveProjectDirs returns project-local directories for the given project root.
func ResolveProjectDirs(projectRoot string) *ProjectDirs {
	root := filepath.Join(projectRoot, "."+AppName)
	return &ProjectDirs{
		Root:   root,
		Config: filepath.Join(root, "config.yaml"),
		Local:  filepath.Join(root, "local"),
	}
}

// EnsureDir creates a directory with the specified permissions if it doesn't exist.
// Uses 0700 when perm is zero.
func EnsureDir(path string, perm os.FileMode) error {
	if perm == 0 {
		perm = 0700
	}
	return os.MkdirAll(path, perm)
}

// EnsureParent creates the parent directory of a file path with standard permissions.
func EnsureParent(path string) error {
	return EnsureDir(filepath.Dir(path), 0755)
}

// ConfigDir returns the config subdirectory path.
func (d *Dirs) ConfigDir(subpath ...string) string {
	return filepath.Join(append([]string{d.Config}, subpath...)...)
}

// DataDir returns the data subdirectory path.
func (d *Dirs) DataDir(subpath ...string) string {
	return filepath.Join(append([]string{d.Data}, subpath...)...)
}

// UserConfigFile is the per-user config.yaml.
func (d *Dirs) UserConfigFile() string {
	return d.ConfigDir("config.yaml")
}

// RunsDB is the default SQLite export database.
func (d *Dirs) RunsDB() string {
	return d.DataDir("runs.db")
}

// RunReport is where a run's JSON report is kept when saved by id.
func (d *Dirs) RunReport(runID string) string {
	return d.DataDir("runs", runID+".json")
}

// EnsureAll creates all standard directories with appropriate permissions.
func (d *Dirs) EnsureAll() error {
	if err := EnsureDir(d.Config, 0700); err != nil {
		return err
	}
	for _, dir := range []string{d.Data, d.DataDir("runs")} {
		if err := EnsureDir(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
