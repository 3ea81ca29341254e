// Package platform sniffs the host so the matching distro descriptor can be chosen.
package platform

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// OSReleasePath is where Describe reads distribution identity from.
const OSReleasePath = "/etc/os-release"

// Current returns the runtime.GOOS value ("darwin", "windows", "linux", …).
func Current() string {
	return runtime.GOOS
}

// Describe returns a platform string such as "linux-rhel-6.3" or
// "linux-ubuntu-12.04". ANVIL_PLATFORM overrides detection.
func Describe() (string, error) {
	if p := os.Getenv("ANVIL_PLATFORM"); p != "" {
		return p, nil
	}
	return DescribeFrom(OSReleasePath)
}

// DescribeFrom builds the platform string from an os-release style file.
func DescribeFrom(path string) (string, error) {
	fields, err := readOSRelease(path)
	if err != nil {
		return "", err
	}
	parts := []string{Current()}
	for _, key := range []string{"ID", "VERSION_ID"} {
		if v := fields[key]; v != "" {
			parts = append(parts, v)
		}
	}
	return strings.ToLower(strings.Join(parts, "-")), nil
}

func readOSRelease(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	defer f.Close()

	fields := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		fields[k] = strings.Trim(v, `"'`)
	}
	return fields, scanner.Err()
}

// ExpandPath expands a leading "~/" and environment variables in path.
func ExpandPath(path string) string {
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	return os.ExpandEnv(path)
}
