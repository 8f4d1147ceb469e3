package downloader

import (
	"os"

	"github.com/google/uuid"
)

// NewRunID returns an identifier unique to one run of this process (hostname+uuid).
func NewRunID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}

	return host + "-" + uuid.NewString()
}
