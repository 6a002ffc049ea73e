package settings

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Settings are user preferences. They sit outside the store's correctness
// surface: a missing or corrupt file silently becomes the defaults.
type Settings struct {
	WindowWidth      int    `json:"window_width"`
	WindowHeight     int    `json:"window_height"`
	LastOpenedStore  string `json:"last_opened_store"`
	ShowClosed       bool   `json:"show_closed_accounts"`
	RegisterPageSize int    `json:"register_page_size"`
}

// Defaults returns the settings used when nothing valid is on disk.
func Defaults() Settings {
	return Settings{
		WindowWidth:      1100,
		WindowHeight:     760,
		RegisterPageSize: 200,
	}
}

// Load reads settings from path. Any failure (absent file, unreadable file,
// malformed JSON) is logged and swallowed; the caller always gets usable
// settings back.
func Load(path string, log zerolog.Logger) Settings {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("settings unreadable, using defaults")
		}
		return Defaults()
	}

	s := Defaults()
	if err := json.Unmarshal(data, &s); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("settings malformed, using defaults")
		return Defaults()
	}
	return s
}

// Save writes settings to path, creating the directory if needed. The write
// goes through a temp file and rename so a crash never leaves a truncated
// settings file behind.
func Save(path string, s Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
