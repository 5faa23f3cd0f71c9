package instance

import (
	"os"

	"github.com/angelmondragon/cartsync/pkg/env"
)

// GetID identifies this process in logs: an explicit id, the platform dyno name, then the hostname.
func GetID() string {
	if id := env.Get("CARTSYNC_INSTANCE_ID", env.Get("DYNO", "")); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
