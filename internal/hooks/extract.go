package hooks

import (
	"path"
	"regexp"
	"strings"
)

var testResultPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(ok|FAIL|PASS|---\s+(PASS|FAIL|SKIP))\b`),
	regexp.MustCompile(`(?i)\b\d+\s+(tests?\s+)?(passed|failed|skipped|passing|failing)\b`),
	regexp.MustCompile(`(?i)^tests?:\s`),
	regexp.MustCompile(`(?i)\b(all tests pass(ed)?|tests? (passed|failed))\b`),
}

// testResultLines picks the lines of text that report test outcomes.
func testResultLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, " \t\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		for _, re := range testResultPatterns {
			if re.MatchString(trimmed) {
				out = append(out, trimmed)
				break
			}
		}
	}
	return out
}

var approvalQuestion = regexp.MustCompile(`(?i)\b(approve|approval|confirm|proceed|go ahead|should i|shall i|do you want|would you like|is it ok|ok to|okay to|let me know)\b`)

// endsWithApprovalQuestion reports whether the last line of text asks the
// reader for a go-ahead.
func endsWithApprovalQuestion(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	last := text
	if i := strings.LastIndexByte(text, '\n'); i >= 0 {
		last = strings.TrimSpace(text[i+1:])
	}
	if !strings.HasSuffix(strings.TrimRight(last, " *_`"), "?") {
		return false
	}
	return approvalQuestion.MatchString(last)
}

var sourceExts = map[string]bool{
	".go": true, ".py": true, ".ts": true, ".tsx": true, ".js": true, ".jsx": true,
	".rs": true, ".java": true, ".kt": true, ".rb": true, ".c": true, ".cc": true,
	".cpp": true, ".h": true, ".swift": true, ".cs": true, ".php": true, ".sh": true,
}

// docsStale reports whether changed holds non-test source files but no
// documentation.
func docsStale(changed []string) bool {
	var source bool
	for _, f := range changed {
		if isDoc(f) {
			return false
		}
		if isSource(f) {
			source = true
		}
	}
	return source
}

func isDoc(f string) bool {
	ext := strings.ToLower(path.Ext(f))
	if ext == ".md" || ext == ".rst" || ext == ".adoc" || ext == ".txt" {
		return true
	}
	return strings.HasPrefix(f, "docs/") || strings.Contains(f, "/docs/")
}

func isSource(f string) bool {
	if !sourceExts[strings.ToLower(path.Ext(f))] {
		return false
	}
	base := path.Base(f)
	return !strings.HasSuffix(base, "_test.go") &&
		!strings.Contains(base, ".test.") &&
		!strings.Contains(base, ".spec.") &&
		!strings.HasPrefix(base, "test_")
}
