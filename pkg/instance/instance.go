package instance

import (
	"os"
	"strings"
)

const fallbackID = "fixora-0"

// ID identifies the running process in logs and lock ownership. It prefers
// FIXORA_INSTANCE_ID, then the host name.
func ID() string {
	if id := strings.TrimSpace(os.Getenv("FIXORA_INSTANCE_ID")); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallbackID
}
