//go:build !windows

package configpaths

import (
	"os"
	"path/filepath"
)

// SystemConfigDir is the machine-wide configuration directory. Root uses
// /etc/portctrl; everyone else falls back to the user directory.
func SystemConfigDir() (string, error) {
	if os.Geteuid() == 0 {
		return filepath.Join(string(os.PathSeparator), "etc", appDir), nil
	}
	return DefaultConfigDir()
}
