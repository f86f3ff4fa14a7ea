package redact

import (
	"regexp"
	"sort"
)

// Rule is one quick-scan pattern.
type Rule struct {
	ID      string
	Pattern *regexp.Regexp
}

// quickRules covers self-identifying token formats. Order matters only for
// overlapping matches, where the earliest start wins.
var quickRules = []Rule{
	{"private-key", regexp.MustCompile(`(?s)-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP |ENCRYPTED )?PRIVATE KEY(?: BLOCK)?-----.*?-----END (?:RSA |DSA |EC |OPENSSH |PGP |ENCRYPTED )?PRIVATE KEY(?: BLOCK)?-----`)},
	{"aws-access-key-id", regexp.MustCompile(`\b(?:A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|AIPA|ANPA|ANVA|ASIA)[A-Z0-9]{16}\b`)},
	{"github-token", regexp.MustCompile(`\b(?:ghp|gho|ghu|ghs|ghr)_[A-Za-z0-9]{36}\b`)},
	{"github-fine-grained", regexp.MustCompile(`\bgithub_pat_[A-Za-z0-9_]{22,}\b`)},
	{"gitlab-token", regexp.MustCompile(`\bglpat-[A-Za-z0-9\-]{20,}`)},
	{"slack-token", regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9-]{10,}`)},
	{"anthropic-key", regexp.MustCompile(`\bsk-ant-[A-Za-z0-9_\-]{20,}`)},
	{"openai-key", regexp.MustCompile(`\bsk-(?:proj-)?[A-Za-z0-9]{32,}`)},
	{"bearer-token", regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9\-._~+/]{16,}=*`)},
	{"generic-api-key", regexp.MustCompile(`(?i)\b(?:api[_-]?key|apikey|secret|password|passwd|token)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`)},
}

// QuickResult reports what Quick replaced.
type QuickResult struct {
	Content string
	// ByRule counts replacements per rule id.
	ByRule map[string]int
}

// Count returns the total number of replacements.
func (r QuickResult) Count() int {
	n := 0
	for _, c := range r.ByRule {
		n += c
	}
	return n
}

type span struct {
	start, end int
	rule       string
}

// Quick replaces every match of the quick rule set with [REDACTED:<rule>].
func Quick(content string) QuickResult {
	res := QuickResult{Content: content, ByRule: map[string]int{}}
	if content == "" {
		return res
	}

	var spans []span
	for _, r := range quickRules {
		for _, loc := range r.Pattern.FindAllStringIndex(content, -1) {
			spans = append(spans, span{loc[0], loc[1], r.ID})
		}
	}
	if len(spans) == 0 {
		return res
	}

	sort.Slice(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].end > spans[j].end
	})

	out := make([]byte, 0, len(content))
	pos := 0
	for _, s := range spans {
		if s.start < pos {
			// overlaps an earlier replacement
			continue
		}
		out = append(out, content[pos:s.start]...)
		out = append(out, "[REDACTED:"+s.rule+"]"...)
		pos = s.end
		res.ByRule[s.rule]++
	}
	out = append(out, content[pos:]...)
	res.Content = string(out)
	return res
}
