//go:build windows

package storage

import (
	"os"
	"path/filepath"
)

func platformConfigDefault() string {
	return filepath.Join(os.Getenv("APPDATA"), AppName, "config")
}

func platformDataDefault() string {
	return filepath.Join(os.Getenv("APPDATA"), AppName, "data")
}
