// Package version exposes build metadata injected with ldflags, e.g.
//
//	go build -ldflags "-X github.com/sean-rowe/farm-weather-gateway/internal/version.Version=1.2.0"
package version

import (
	"runtime"
	"time"
)

// ServiceName identifies the gateway in telemetry and upstream User-Agent headers.
const ServiceName = "farm-weather-gateway"

// Build-time variables set via ldflags.
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Info contains version and build information.
type Info struct {
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	GitCommit string    `json:"git_commit"`
	GoVersion string    `json:"go_version"`
	Platform  string    `json:"platform"`
	BuildDate time.Time `json:"build_date,omitempty"`
}

// Get returns version and build information.
func Get() Info {
	var buildDate time.Time

	// "unknown" in development builds
	if t, err := time.Parse(time.RFC3339, BuildTime); err == nil {
		buildDate = t
	}

	return Info{
		Service:   ServiceName,
		Version:   Version,
		GitCommit: GitCommit,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		BuildDate: buildDate,
	}
}

// UserAgent is sent with every upstream request.
func UserAgent() string {
	return ServiceName + "/" + Version
}
