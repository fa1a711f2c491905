package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/hidemail/internal/flagx"
	"github.com/dmitrijs2005/hidemail/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
// It relies on timex.Duration so JSON can specify the timeout either as a
// string like "30s" or as integer nanoseconds. After parsing, values are
// copied into the runtime Config (which uses time.Duration).
type JsonConfig struct {
	StateDir       string         `json:"state_dir"`
	Region         string         `json:"region"`
	Storage        string         `json:"storage"`
	RequestTimeout timex.Duration `json:"request_timeout"`
}

// parseJson overlays Config with values loaded from a JSON file resolved
// from the -c/-config flags. Missing flag means no JSON stage. Empty JSON
// fields leave the existing value untouched.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	applyJson(cfg, &jc)
}

func applyJson(cfg *Config, jc *JsonConfig) {
	if jc.StateDir != "" {
		cfg.StateDir = jc.StateDir
	}
	if jc.Region != "" {
		cfg.Region = jc.Region
	}
	if jc.Storage != "" {
		cfg.Storage = jc.Storage
	}
	if jc.RequestTimeout.Duration != 0 {
		cfg.RequestTimeout = time.Duration(jc.RequestTimeout.Duration)
	}
}
