// Package configpaths locates portctrl configuration files.
package configpaths

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const appDir = "portctrl"

// DefaultConfigDir is the per-user configuration directory.
func DefaultConfigDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appDir), nil
}

// ConfigCandidatePaths returns the configuration files to try, per format,
// in priority order. An explicit user file, when given, is the only
// candidate of its format and comes first.
func ConfigCandidatePaths(userCfg string) (jsonPaths, yamlPaths, tomlPaths []string) {
	if userCfg != "" {
		switch strings.ToLower(filepath.Ext(userCfg)) {
		case ".json":
			return []string{userCfg}, nil, nil
		case ".yaml", ".yml":
			return nil, []string{userCfg}, nil
		case ".toml":
			return nil, nil, []string{userCfg}
		}
	}

	var dirs []string
	if wd, err := os.Getwd(); err == nil {
		dirs = append(dirs, wd)
	}
	if dir, err := DefaultConfigDir(); err == nil {
		dirs = append(dirs, dir)
	}
	if dir, err := SystemConfigDir(); err == nil && !slices.Contains(dirs, dir) {
		dirs = append(dirs, dir)
	}
	for _, d := range dirs {
		jsonPaths = append(jsonPaths, filepath.Join(d, "portctrl.json"))
		yamlPaths = append(yamlPaths,
			filepath.Join(d, "portctrl.yaml"),
			filepath.Join(d, "portctrl.yml"),
		)
		tomlPaths = append(tomlPaths, filepath.Join(d, "portctrl.toml"))
	}
	return jsonPaths, yamlPaths, tomlPaths
}
