// Package config holds build metadata, set at link time:
//
//	go build -ldflags "-X github.com/edirooss/groundstation/internal/config.Version=1.2.0 ..."
package config

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)
