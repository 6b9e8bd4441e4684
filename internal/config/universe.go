package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Universe is the file-based watch list used by ticker-driven sources, plus
// adjustments to the fund-brand keyword set.
type Universe struct {
	Tickers  []UniverseTicker `yaml:"tickers"`
	Keywords KeywordAdjust    `yaml:"fund_keywords"`
}

// UniverseTicker is one watched instrument. CorpCode is the disclosure-system
// identifier and is only needed for valuation updates.
type UniverseTicker struct {
	Code     string `yaml:"code"`
	Name     string `yaml:"name"`
	Market   string `yaml:"market"`
	CorpCode string `yaml:"corp_code"`
}

// KeywordAdjust adds to or removes from the built-in fund keyword list.
type KeywordAdjust struct {
	Add    []string `yaml:"add"`
	Remove []string `yaml:"remove"`
}

// LoadUniverse reads and validates a universe YAML file. Environment variables
// in the file are expanded.
func LoadUniverse(path string) (*Universe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read universe file: %w", err)
	}

	var u Universe
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &u); err != nil {
		return nil, fmt.Errorf("parse universe yaml: %w", err)
	}

	if err := u.Validate(); err != nil {
		return nil, fmt.Errorf("validate universe: %w", err)
	}
	return &u, nil
}

// Validate checks ticker codes are six characters and unique.
func (u *Universe) Validate() error {
	seen := make(map[string]struct{}, len(u.Tickers))
	for i := range u.Tickers {
		t := &u.Tickers[i]
		t.Code = strings.TrimSpace(t.Code)
		if len(t.Code) != 6 {
			return fmt.Errorf("tickers[%d].code %q must be 6 characters", i, t.Code)
		}
		if _, dup := seen[t.Code]; dup {
			return fmt.Errorf("tickers[%d].code %q is duplicated", i, t.Code)
		}
		seen[t.Code] = struct{}{}
	}
	return nil
}

// Codes returns the ticker codes in file order.
func (u *Universe) Codes() []string {
	codes := make([]string, 0, len(u.Tickers))
	for _, t := range u.Tickers {
		codes = append(codes, t.Code)
	}
	return codes
}

// Lookup returns the watch-list entry for a code.
func (u *Universe) Lookup(code string) (UniverseTicker, bool) {
	for _, t := range u.Tickers {
		if t.Code == code {
			return t, true
		}
	}
	return UniverseTicker{}, false
}

// CorpCodes maps ticker codes to disclosure corp codes, skipping unmapped entries.
func (u *Universe) CorpCodes() map[string]string {
	out := make(map[string]string, len(u.Tickers))
	for _, t := range u.Tickers {
		if t.CorpCode != "" {
			out[t.Code] = t.CorpCode
		}
	}
	return out
}
