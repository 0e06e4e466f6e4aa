//go:build windows

package configpaths

import (
	"os"
	"path/filepath"
)

// SystemConfigDir is the machine-wide configuration directory under
// %ProgramData%.
func SystemConfigDir() (string, error) {
	if pd := os.Getenv("ProgramData"); pd != "" {
		return filepath.Join(pd, appDir), nil
	}
	return DefaultConfigDir()
}
