package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedFile is the operator-provided bootstrap document consumed by
// cmd/accountseed: account credential material plus the public model catalog.
type SeedFile struct {
	Accounts []SeedAccount `yaml:"accounts"`
	Models   []SeedModel   `yaml:"models"`
}

// SeedAccount mirrors the credential fields required to mint upstream tokens.
type SeedAccount struct {
	TeamID     string `yaml:"team_id"`
	SecureCSes string `yaml:"secure_c_ses"`
	HostCOses  string `yaml:"host_c_oses"`
	CSesIdx    string `yaml:"csesidx"`
	UserAgent  string `yaml:"user_agent"`
	Available  *bool  `yaml:"available"`
}

// SeedModel is one catalog entry; disabled models are hidden from /v1/models.
type SeedModel struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	Description   string `yaml:"description"`
	ContextLength int    `yaml:"context_length"`
	MaxTokens     int    `yaml:"max_tokens"`
	Enabled       *bool  `yaml:"enabled"`
}

// LoadSeedFile reads and parses a YAML seed document.
func LoadSeedFile(path string) (SeedFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return SeedFile{}, fmt.Errorf("op=config.LoadSeedFile: %w", err)
	}
	var sf SeedFile
	if err := yaml.Unmarshal(b, &sf); err != nil {
		return SeedFile{}, fmt.Errorf("op=config.LoadSeedFile: parse: %w", err)
	}
	for i, a := range sf.Accounts {
		if a.CSesIdx == "" || a.SecureCSes == "" {
			return SeedFile{}, fmt.Errorf("op=config.LoadSeedFile: account %d missing csesidx or secure_c_ses", i)
		}
	}
	return sf, nil
}
