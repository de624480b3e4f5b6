package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Version information, overridden at build time via ldflags.
var (
	Version   = "0.1.0"
	Build     = "dev"
	GitCommit = "unknown"
)

// GetVersion returns the semantic version, preferring the .version file
// next to the executable when present.
func GetVersion() string {
	if v := readVersionFile("version"); v != "" {
		return v
	}
	return Version
}

// GetBuild returns the build identifier.
func GetBuild() string {
	if b := readVersionFile("build"); b != "" {
		return b
	}
	return Build
}

// GetFullVersion returns version and build as a single display string.
func GetFullVersion() string {
	return fmt.Sprintf("%s (build %s)", GetVersion(), GetBuild())
}

// readVersionFile looks for a .version file beside the executable and in
// the working directory. Lines are "key: value" pairs.
func readVersionFile(key string) string {
	paths := []string{".version"}
	if exe, err := os.Executable(); err == nil {
		paths = append([]string{filepath.Join(filepath.Dir(exe), ".version")}, paths...)
	}

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		for _, line := range strings.Split(string(data), "\n") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) != 2 {
				continue
			}
			if strings.TrimSpace(parts[0]) == key {
				return strings.TrimSpace(parts[1])
			}
		}
	}
	return ""
}
