// Package approval recognizes human sign-off in free-form prompt text.
//
// A Grant is the only token that can move proof status to verified. Its
// fields are unexported and Classify is its only constructor, so code that
// handles worker output has no way to mint one.
package approval

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// HumanPrompt is text typed by the human operator of a session.
type HumanPrompt struct {
	SessionID  string
	Text       string
	ReceivedAt time.Time
}

// Grant records that a human prompt contained an approval phrase.
type Grant struct {
	phrase    string
	sessionID string
	at        time.Time
}

// Phrase is the vocabulary entry that matched.
func (g Grant) Phrase() string { return g.phrase }

// SessionID is the session the approving prompt came from.
func (g Grant) SessionID() string { return g.sessionID }

// At is when the approving prompt was received.
func (g Grant) At() time.Time { return g.at }

// Valid reports whether g came from Classify. The zero Grant is invalid.
func (g Grant) Valid() bool { return g.phrase != "" }

// Classifier matches prompts against an approval vocabulary.
type Classifier struct {
	phrases []phrase
}

type phrase struct {
	text string
	re   *regexp.Regexp
}

var (
	// clauseBreak ends the scope a negation word can reach.
	clauseBreak = regexp.MustCompile(`[,.;:!?\n]`)
	wordRe      = regexp.MustCompile(`[a-z']+`)

	negators = map[string]bool{
		"not": true, "no": true, "never": true, "nothing": true, "without": true,
		"don't": true, "dont": true, "doesn't": true, "doesnt": true,
		"isn't": true, "isnt": true, "aren't": true, "arent": true,
		"can't": true, "cant": true, "cannot": true, "won't": true, "wont": true,
		"shouldn't": true, "shouldnt": true, "didn't": true, "didnt": true,
		"hardly": true, "barely": true,
	}

	// refusals that negate the whole prompt when they open it
	openingRefusals = map[string]bool{
		"no": true, "nope": true, "nah": true, "wait": true, "stop": true,
	}
)

// NewClassifier compiles the vocabulary. Matching is case-insensitive and
// bounded by word edges; whitespace inside a phrase matches any run of
// whitespace.
func NewClassifier(vocabulary []string) (*Classifier, error) {
	if len(vocabulary) == 0 {
		return nil, errors.New("approval: empty vocabulary")
	}
	c := &Classifier{}
	for _, v := range vocabulary {
		words := strings.Fields(strings.ToLower(v))
		if len(words) == 0 {
			continue
		}
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		re, err := regexp.Compile(`\b` + strings.Join(words, `\s+`) + `\b`)
		if err != nil {
			return nil, fmt.Errorf("approval: phrase %q: %w", v, err)
		}
		c.phrases = append(c.phrases, phrase{text: strings.Join(strings.Fields(strings.ToLower(v)), " "), re: re})
	}
	if len(c.phrases) == 0 {
		return nil, errors.New("approval: empty vocabulary")
	}
	return c, nil
}

// Classify returns a Grant when p contains an approval phrase that is not
// negated and not posed as a question.
func (c *Classifier) Classify(p HumanPrompt) (Grant, bool) {
	text := normalize(p.Text)
	if text == "" || opensWithRefusal(text) {
		return Grant{}, false
	}

	for _, ph := range c.phrases {
		for _, loc := range ph.re.FindAllStringIndex(text, -1) {
			start, end := loc[0], loc[1]
			if hyphenated(text, start, end) {
				continue
			}
			if negated(text[clauseStart(text, start):start]) {
				continue
			}
			if asksQuestion(text[end:]) {
				continue
			}
			return Grant{phrase: ph.text, sessionID: p.SessionID, at: p.ReceivedAt}, true
		}
	}
	return Grant{}, false
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("’", "'", "‘", "'").Replace(s)
}

func opensWithRefusal(text string) bool {
	first := wordRe.FindString(text)
	return openingRefusals[first] && (len(text) == len(first) || !isLetter(text[len(first)]))
}

// hyphenated rejects matches glued to a word by a hyphen ("pre-approved").
func hyphenated(text string, start, end int) bool {
	return (start > 0 && text[start-1] == '-') || (end < len(text) && text[end] == '-')
}

func clauseStart(text string, pos int) int {
	locs := clauseBreak.FindAllStringIndex(text[:pos], -1)
	if len(locs) == 0 {
		return 0
	}
	return locs[len(locs)-1][1]
}

func negated(prefix string) bool {
	for _, w := range wordRe.FindAllString(prefix, -1) {
		if negators[w] {
			return true
		}
	}
	return false
}

// asksQuestion reports whether the clause holding the match ends in '?'.
func asksQuestion(rest string) bool {
	loc := clauseBreak.FindStringIndex(rest)
	return loc != nil && rest[loc[0]] == '?'
}

func isLetter(b byte) bool {
	return b >= 'a' && b <= 'z' || b == '\''
}
