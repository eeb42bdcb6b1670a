package prompt

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxReplacePasses bounds the replacement loop; anything still matching
// afterwards is deleted outright.
const maxReplacePasses = 8

type stripper struct {
	// words matches phrases standing alone; anywhere also matches inside words.
	words        *regexp.Regexp
	anywhere     *regexp.Regexp
	replacements map[string]string
}

func newStripper(rules []phraseRule) (*stripper, error) {
	phrases := make([]string, 0, len(rules))
	repl := make(map[string]string, len(rules))
	for _, r := range rules {
		p := strings.ToLower(strings.TrimSpace(r.Phrase))
		if p == "" {
			return nil, fmt.Errorf("prompt templates: empty excluded phrase")
		}
		phrases = append(phrases, p)
		repl[p] = r.Replacement
	}

	// Longest first so "sparked" wins over "spark" at the same offset.
	sort.SliceStable(phrases, func(i, j int) bool { return len(phrases[i]) > len(phrases[j]) })
	quoted := make([]string, len(phrases))
	for i, p := range phrases {
		quoted[i] = regexp.QuoteMeta(p)
	}
	alternation := strings.Join(quoted, "|")
	anyRE, err := regexp.Compile(`(?i)(?:` + alternation + `)`)
	if err != nil {
		return nil, fmt.Errorf("prompt templates: excluded phrases: %w", err)
	}
	wordsRE := regexp.MustCompile(`(?i)\b(?:` + alternation + `)\b`)

	for p, r := range repl {
		if anyRE.MatchString(r) {
			return nil, fmt.Errorf("prompt templates: replacement %q for %q contains an excluded phrase", r, p)
		}
	}
	return &stripper{words: wordsRE, anywhere: anyRE, replacements: repl}, nil
}

// strip replaces whole-word phrases, then deletes whatever is left inside
// larger words. Text without a match is returned untouched.
func (s *stripper) strip(text string) string {
	if !s.anywhere.MatchString(text) {
		return text
	}
	for i := 0; i < maxReplacePasses && s.words.MatchString(text); i++ {
		text = splice(s.words, text, s.replace)
	}
	// Every deletion shortens the text, so this terminates.
	for s.anywhere.MatchString(text) {
		text = splice(s.anywhere, text, func(string) string { return "" })
	}
	return text
}

func (s *stripper) replace(match string) string {
	r := s.replacements[strings.ToLower(match)]
	if r == "" {
		return ""
	}
	first, _ := utf8.DecodeRuneInString(match)
	if unicode.IsUpper(first) {
		rr, size := utf8.DecodeRuneInString(r)
		return string(unicode.ToUpper(rr)) + r[size:]
	}
	return r
}

// splice rewrites each match of re with repl. When a match is deleted, the
// one space it leaves doubled (or dangling before punctuation) goes with it;
// no other byte of text changes.
func splice(re *regexp.Regexp, text string, repl func(string) string) string {
	var b strings.Builder
	last := 0
	for _, loc := range re.FindAllStringIndex(text, -1) {
		head, r := text[last:loc[0]], repl(text[loc[0]:loc[1]])
		last = loc[1]
		if r == "" {
			tail := text[loc[1]:]
			switch {
			case atLineStart(text[:loc[0]]) && strings.HasPrefix(tail, " "):
				last++
			case endsWithWordSpace(head) && (tail == "" || strings.IndexByte(" .,;:!?\n", tail[0]) >= 0):
				head = head[:len(head)-1]
			}
		}
		b.WriteString(head)
		b.WriteString(r)
	}
	b.WriteString(text[last:])
	return b.String()
}

// atLineStart reports whether only indentation follows the last newline.
func atLineStart(before string) bool {
	line := before[strings.LastIndexByte(before, '\n')+1:]
	return strings.TrimLeft(line, " \t") == ""
}

// endsWithWordSpace reports whether s ends in a single space after a
// non-space character.
func endsWithWordSpace(s string) bool {
	n := len(s)
	return n >= 2 && s[n-1] == ' ' && s[n-2] != ' ' && s[n-2] != '\t' && s[n-2] != '\n'
}
