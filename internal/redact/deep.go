package redact

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// Finding is one secret reported by the deep scan. The secret value itself
// is not kept.
type Finding struct {
	RuleID string `json:"rule_id"`
	Line   int    `json:"line"`
}

// DeepResult is the redacted content and what was found.
type DeepResult struct {
	Content  string
	Findings []Finding
}

// Deep scans content with the gitleaks default rules and replaces each
// secret with [REDACTED:<rule-id>].
func Deep(content string, allow *Allowlist) (DeepResult, error) {
	res := DeepResult{Content: content}
	if strings.TrimSpace(content) == "" {
		return res, nil
	}

	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return res, fmt.Errorf("creating gitleaks detector: %w", err)
	}
	if !allow.Empty() {
		if err := applyAllowlist(&detector.Config, allow); err != nil {
			return res, err
		}
	}

	findings := detector.DetectString(content)
	// longest secrets first so a secret containing another is replaced whole
	sort.SliceStable(findings, func(i, j int) bool {
		return len(findings[i].Secret) > len(findings[j].Secret)
	})

	redacted := content
	for _, f := range findings {
		res.Findings = append(res.Findings, Finding{RuleID: f.RuleID, Line: f.StartLine})
		if f.Secret == "" {
			continue
		}
		redacted = strings.ReplaceAll(redacted, f.Secret, "[REDACTED:"+f.RuleID+"]")
	}
	res.Content = redacted
	return res, nil
}

func applyAllowlist(cfg *gitleaksConfig.Config, allow *Allowlist) error {
	global := &gitleaksConfig.Allowlist{Description: "agentgate user/project allowlist"}
	for _, pattern := range allow.Regexes {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidRegex, pattern, err)
		}
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(re))
	}
	global.StopWords = append(global.StopWords, allow.StopWords...)
	cfg.Allowlists = append(cfg.Allowlists, global)
	return nil
}
