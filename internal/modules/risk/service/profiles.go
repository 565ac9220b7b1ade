package service

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"trade_core/internal/models"
)

type profilesFile struct {
	Profiles []models.RiskProfile `yaml:"profiles"`
}

// LoadProfiles reads and validates every profile in a YAML file.
func LoadProfiles(path string) ([]models.RiskProfile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read risk profiles: %w", err)
	}
	return ParseProfiles(raw)
}

func ParseProfiles(raw []byte) ([]models.RiskProfile, error) {
	var f profilesFile
	if err := yaml.UnmarshalStrict(raw, &f); err != nil {
		return nil, fmt.Errorf("decode risk profiles: %w", err)
	}
	if len(f.Profiles) == 0 {
		return nil, fmt.Errorf("%w: no profiles defined", models.ErrInvalidProfile)
	}
	seen := make(map[string]bool, len(f.Profiles))
	for _, p := range f.Profiles {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("%w: duplicate profile %q", models.ErrInvalidProfile, p.Name)
		}
		seen[p.Name] = true
	}
	return f.Profiles, nil
}

// SelectProfile picks name and applies invocation-time overrides.
func SelectProfile(profiles []models.RiskProfile, name string, o models.ProfileOverrides) (models.RiskProfile, error) {
	for _, p := range profiles {
		if p.Name == name {
			return p.WithOverrides(o)
		}
	}
	return models.RiskProfile{}, fmt.Errorf("%w: profile %q not found", models.ErrInvalidProfile, name)
}
