package redact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/BurntSushi/toml"
)

var (
	// ErrInvalidTOML indicates an allowlist file could not be parsed.
	ErrInvalidTOML = errors.New("invalid allowlist TOML")

	// ErrInvalidRegex indicates an allowlist pattern does not compile.
	ErrInvalidRegex = errors.New("invalid allowlist regex")
)

// ProjectAllowlistFile is read from the project root.
const ProjectAllowlistFile = ".gitleaks.toml"

// Allowlist holds content patterns that are never redacted by Deep.
type Allowlist struct {
	Regexes   []string
	StopWords []string
}

// Empty reports whether the allowlist has no entries.
func (a *Allowlist) Empty() bool {
	return a == nil || (len(a.Regexes) == 0 && len(a.StopWords) == 0)
}

// DefaultUserAllowlistPath returns ~/.config/agentgate/allowlist.toml.
func DefaultUserAllowlistPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "agentgate", "allowlist.toml")
}

// LoadAllowlists merges the project .gitleaks.toml and the user allowlist.
// Missing files are skipped; invalid ones are errors.
func LoadAllowlists(projectRoot, userPath string) (*Allowlist, error) {
	merged := &Allowlist{}
	var paths []string
	if projectRoot != "" {
		paths = append(paths, filepath.Join(projectRoot, ProjectAllowlistFile))
	}
	if userPath != "" {
		paths = append(paths, userPath)
	}

	for _, p := range paths {
		a, err := loadTOML(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		merged.Regexes = append(merged.Regexes, a.Regexes...)
		merged.StopWords = append(merged.StopWords, a.StopWords...)
	}
	return merged, nil
}

// loadTOML reads the [allowlist] table of a gitleaks-style config.
func loadTOML(path string) (*Allowlist, error) {
	var doc struct {
		Allowlist struct {
			Regexes   []string `toml:"regexes"`
			StopWords []string `toml:"stopwords"`
		} `toml:"allowlist"`
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}
	for _, pattern := range doc.Allowlist.Regexes {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: %q in %s: %v", ErrInvalidRegex, pattern, path, err)
		}
	}
	return &Allowlist{Regexes: doc.Allowlist.Regexes, StopWords: doc.Allowlist.StopWords}, nil
}
