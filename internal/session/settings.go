package session

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// LoadSettings reads the user settings blob at path. Missing or corrupt
// files return an empty map — settings are best-effort by contract and
// callers must tolerate missing data.
func LoadSettings(path string) map[string]any {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("settings read failed", "path", path, "err", err)
		}
		return map[string]any{}
	}

	var settings map[string]any
	if err := json.Unmarshal(data, &settings); err != nil {
		slog.Warn("settings payload corrupt, ignoring", "path", path, "err", err)
		return map[string]any{}
	}
	if settings == nil {
		settings = map[string]any{}
	}
	return settings
}

// SaveSettings writes the settings blob with an atomic replace so a crash
// mid-write never leaves a truncated file. Errors are logged and swallowed.
func SaveSettings(path string, settings map[string]any) {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		slog.Warn("settings encode failed", "path", path, "err", err)
		return
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		slog.Warn("settings dir create failed", "path", path, "err", err)
		return
	}

	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		slog.Warn("settings write failed", "path", path, "err", err)
	}
}
