package baidu

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/italolelis/photo_downloader/internal/photo"
)

// Settings are the credentials of an already logged-in browser session.
type Settings struct {
	ClientType string `json:"clienttype"`
	BDSToken   string `json:"bdstoken"`
	Cookie     string `json:"Cookie"`
}

// Validate checks that every credential is present.
func (s Settings) Validate() error {
	var missing []string

	if strings.TrimSpace(s.ClientType) == "" {
		missing = append(missing, "clienttype")
	}

	if strings.TrimSpace(s.BDSToken) == "" {
		missing = append(missing, "bdstoken")
	}

	if strings.TrimSpace(s.Cookie) == "" {
		missing = append(missing, "Cookie")
	}

	if len(missing) > 0 {
		return &photo.ConfigError{Field: "settings", Reason: "missing " + strings.Join(missing, ", ")}
	}

	return nil
}

// LoadSettings reads the session settings document at path.
func LoadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		reason := "failed to read settings file"
		if errors.Is(err, fs.ErrNotExist) {
			reason = "settings file not found"
		}

		return Settings{}, &photo.ConfigError{Field: path, Reason: reason, Err: err}
	}

	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, &photo.ConfigError{Field: path, Reason: "settings file is not valid JSON", Err: err}
	}

	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("settings file %s: %w", path, err)
	}

	return s, nil
}
