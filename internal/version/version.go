package version

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Version is set at build time:
//
//	go build -ldflags "-X shaluqa.app/crm/internal/version.Version=1.4.0"
var Version = "dev"

// Resolve returns the build version. Builds without one fall back to the
// first line of the file at path, then to "dev".
func Resolve(path string) string {
	if Version != "" && Version != "dev" {
		return Normalize(Version)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "dev"
	}
	line, _, _ := strings.Cut(string(data), "\n")
	if v := Normalize(line); v != "" {
		if _, err := ExtractMajorVersion(v); err == nil {
			return v
		}
	}
	return "dev"
}

// Normalize trims whitespace and a leading "v".
func Normalize(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}

func ExtractMajorVersion(version string) (int, error) {
	if version == "" {
		return 0, fmt.Errorf("empty version string")
	}

	major, err := strconv.Atoi(strings.Split(version, ".")[0])
	if err != nil {
		return 0, fmt.Errorf("invalid major version: %v", err)
	}

	if major < 0 {
		return 0, fmt.Errorf("major version cannot be negative")
	}

	return major, nil
}
