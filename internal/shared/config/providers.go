package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Provider is one insurance counterparty that can be asked for a premium quote.
type Provider struct {
	Code    string `yaml:"code"`
	Name    string `yaml:"name"`
	Enabled bool   `yaml:"enabled"`
}

// Catalog lists the known providers in quoting order.
type Catalog struct {
	Providers []Provider `yaml:"providers"`
}

var defaultCatalog = Catalog{Providers: []Provider{
	{Code: "002", Name: "PICC Property and Casualty", Enabled: true},
	{Code: "003", Name: "Ping An Property and Casualty", Enabled: true},
	{Code: "004", Name: "China Pacific Property Insurance", Enabled: true},
	{Code: "005", Name: "China Life Property and Casualty", Enabled: true},
	{Code: "006", Name: "Sunshine Property and Casualty", Enabled: true},
}}

// DefaultCatalog returns the built-in provider list.
func DefaultCatalog() Catalog {
	out := Catalog{Providers: make([]Provider, len(defaultCatalog.Providers))}
	copy(out.Providers, defaultCatalog.Providers)
	return out
}

// LoadCatalog reads a provider catalog from YAML. A missing file yields the defaults.
func LoadCatalog(path string) (Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultCatalog(), nil
		}
		return Catalog{}, fmt.Errorf("read provider catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates catalog YAML.
func ParseCatalog(data []byte) (Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return Catalog{}, fmt.Errorf("parse provider catalog: %w", err)
	}
	seen := make(map[string]struct{}, len(cat.Providers))
	for i, p := range cat.Providers {
		code := strings.TrimSpace(p.Code)
		if code == "" {
			return Catalog{}, fmt.Errorf("provider %d: code is required", i)
		}
		if _, dup := seen[code]; dup {
			return Catalog{}, fmt.Errorf("provider %s: duplicate code", code)
		}
		seen[code] = struct{}{}
		cat.Providers[i].Code = code
	}
	return cat, nil
}

// EnabledCodes returns the codes of enabled providers in catalog order.
func (c Catalog) EnabledCodes() []string {
	out := make([]string, 0, len(c.Providers))
	for _, p := range c.Providers {
		if p.Enabled {
			out = append(out, p.Code)
		}
	}
	return out
}

// Name returns the display name for a provider code, or the code itself.
func (c Catalog) Name(code string) string {
	for _, p := range c.Providers {
		if p.Code == code {
			return p.Name
		}
	}
	return code
}
