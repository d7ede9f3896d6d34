// Package version carries build metadata for the codeindex binary.
//
// Release builds inject values with ldflags:
//
//	-X github.com/Aman-CERP/codeindex/pkg/version.Version=v0.3.0
//	-X github.com/Aman-CERP/codeindex/pkg/version.Commit=abc1234
//	-X github.com/Aman-CERP/codeindex/pkg/version.Date=2026-01-01T00:00:00Z
package version

import (
	"fmt"
	"runtime"
)

// Name is the program name reported to MCP clients and in `codeindex version`.
const Name = "codeindex"

// Version is "dev" unless set at build time.
var Version = "dev"

var (
	Commit = "unknown"
	Date   = "unknown"
)

// BuildInfo is the JSON form of `codeindex version --json`.
type BuildInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// String returns a one-line description of the build.
func String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s, %s %s/%s)",
		Name, Version, Commit, Date, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// GetInfo returns the build metadata.
func GetInfo() BuildInfo {
	return BuildInfo{
		Name:      Name,
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}
