package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// Parse decodes TOML content over base. Keys absent from content keep their
// base values; unknown keys become warnings.
func Parse(content string, base Config) (Config, []Warning, error) {
	cfg := base
	if strings.TrimSpace(content) == "" {
		validatedWarnings, err := Validate(cfg)
		if err != nil {
			return Config{}, nil, err
		}
		return cfg, validatedWarnings, nil
	}

	// Decode replaces slices wholesale, so start from a private copy.
	cfg.Serial.Candidates = append([]string(nil), base.Serial.Candidates...)

	meta, err := toml.Decode(content, &cfg)
	if err != nil {
		return Config{}, nil, err
	}

	warnings := make([]Warning, 0)
	for _, key := range meta.Undecoded() {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("unknown config key %q ignored", key.String())})
	}

	validatedWarnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, append(warnings, validatedWarnings...), nil
}
