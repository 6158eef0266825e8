package recognize

import (
	"errors"
	"fmt"
	"strings"
)

// LanguageSet is an ordered, de-duplicated list of trained-data codes such as
// "eng" or "chi_sim". Order matters to Tesseract: the first language is the
// primary one.
type LanguageSet []string

// ParseLanguages parses a plus-joined list ("eng+deu"); commas are accepted
// as separators too ("eng,deu"). Empty segments are skipped and duplicates
// keep their first position.
func ParseLanguages(s string) (LanguageSet, error) {
	var out LanguageSet
	seen := make(map[string]bool)
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '+' || r == ',' }) {
		code := strings.TrimSpace(part)
		if code == "" {
			continue
		}
		if !validCode(code) {
			return nil, fmt.Errorf("invalid language code %q", code)
		}
		if seen[code] {
			continue
		}
		seen[code] = true
		out = append(out, code)
	}
	if len(out) == 0 {
		return nil, errors.New("empty language set")
	}
	return out, nil
}

// Tesseract codes are letters, digits and underscores; script models live
// under "script/".
func validCode(code string) bool {
	for _, r := range code {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_' || r == '-' || r == '/':
		default:
			return false
		}
	}
	return true
}

func (l LanguageSet) String() string { return strings.Join(l, "+") }

// Missing returns the codes in l that are not in installed, in l's order.
func (l LanguageSet) Missing(installed []string) []string {
	have := make(map[string]bool, len(installed))
	for _, code := range installed {
		have[code] = true
	}
	var missing []string
	for _, code := range l {
		if !have[code] {
			missing = append(missing, code)
		}
	}
	return missing
}
