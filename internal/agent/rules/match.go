package rules

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Chative-core-poc-v1/cafebot/internal/agent/model"
)

// Contains reports whether phrase occurs in text. Latin phrases must sit on word
// boundaries ("hi" does not match "this"); other scripts match as plain substrings
// because they are not space separated.
func Contains(text, phrase string) bool {
	p := strings.ToLower(strings.TrimSpace(phrase))
	if p == "" {
		return false
	}
	t := strings.ToLower(text)
	if !isLatin(p) {
		return strings.Contains(t, p)
	}
	for from := 0; from < len(t); {
		idx := strings.Index(t[from:], p)
		if idx < 0 {
			return false
		}
		start := from + idx
		end := start + len(p)
		if boundaryBefore(t, start) && boundaryAfter(t, end) {
			return true
		}
		_, size := utf8.DecodeRuneInString(t[start:])
		from = start + size
	}
	return false
}

// FirstMatch returns the first phrase found in text.
func FirstMatch(text string, phrases []string) (string, bool) {
	for _, p := range phrases {
		if Contains(text, p) {
			return p, true
		}
	}
	return "", false
}

// ContainsAny reports whether any phrase occurs in text.
func ContainsAny(text string, phrases []string) bool {
	_, ok := FirstMatch(text, phrases)
	return ok
}

func isLatin(s string) bool {
	for _, r := range s {
		if r > unicode.MaxLatin1 {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}

// InScript reports whether r belongs to the local script.
func (t *Tables) InScript(r rune) bool {
	for _, rg := range t.Script.Ranges {
		if r >= rg.From && r <= rg.To {
			return true
		}
	}
	return false
}

// HasScript reports whether text contains any local-script character.
func (t *Tables) HasScript(text string) bool {
	for _, r := range text {
		if t.InScript(r) {
			return true
		}
	}
	return false
}

// DetectLanguage classifies text as local, English or mixed by counting letters.
// Text without letters is English.
func (t *Tables) DetectLanguage(text string) model.Language {
	var local, latin int
	for _, r := range text {
		switch {
		case t.InScript(r):
			local++
		case r <= unicode.MaxLatin1 && unicode.IsLetter(r):
			latin++
		}
	}
	switch {
	case local > 0 && latin > 0:
		return model.LanguageMixed
	case local > 0:
		return model.LanguageLocal
	default:
		return model.LanguageEnglish
	}
}

// NamespaceFor picks a namespace by keyword, in the configured order, else the default.
func (t *Tables) NamespaceFor(text string) model.Namespace {
	for _, name := range t.Namespaces.Order {
		if ContainsAny(text, t.Namespaces.Keywords[name]) {
			ns, _ := model.ParseNamespace(name)
			return ns
		}
	}
	ns, _ := model.ParseNamespace(t.Namespaces.Default)
	return ns
}

// BasicTerms derives search terms from keyword buckets when the model supplied none.
func (t *Tables) BasicTerms(text string) []string {
	for _, b := range t.Analysis.TermBuckets {
		if ContainsAny(text, b.Keywords) {
			return append([]string(nil), b.Terms...)
		}
	}
	return append([]string(nil), t.Analysis.DefaultTerms...)
}
