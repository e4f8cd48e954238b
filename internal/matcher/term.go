package matcher

import (
	"log/slog"
	"regexp"
	"strings"
)

// regexFlags are the flags accepted after a /pattern/ term. "c" turns off the
// case-insensitivity that is otherwise forced; the rest are Go inline flags.
const regexFlags = "imsUc"

// term is one include or exclude entry: a literal substring or a regex.
type term struct {
	raw     string
	literal string
	re      *regexp.Regexp
	regex   bool
}

// matches checks literals against the lowercased title and regexes against
// the whitespace-collapsed title, so the "c" flag keeps its meaning.
func (t term) matches(collapsed, normalized string) bool {
	if !t.regex {
		return t.literal != "" && strings.Contains(normalized, t.literal)
	}
	if t.re == nil {
		return false
	}
	return t.re.MatchString(collapsed)
}

func parseTerm(raw, ruleID string, logger *slog.Logger) term {
	pattern, flags, isRegex := splitRegex(raw)
	if !isRegex {
		return term{raw: raw, literal: normalize(raw)}
	}

	t := term{raw: raw, regex: true}
	if pattern == "" {
		logger.Warn("empty regex term, it will never match",
			"rule", ruleID,
			"term", raw)
		return t
	}
	re, err := regexp.Compile(inlineFlags(flags) + pattern)
	if err != nil {
		logger.Warn("invalid regex term, it will never match",
			"rule", ruleID,
			"term", raw,
			"error", err)
		return t
	}
	t.re = re
	return t
}

// splitRegex recognizes the /pattern/flags syntax. Anything else is a literal.
func splitRegex(raw string) (pattern, flags string, ok bool) {
	s := strings.TrimSpace(raw)
	if len(s) < 2 || s[0] != '/' {
		return "", "", false
	}
	end := strings.LastIndex(s, "/")
	if end <= 0 {
		return "", "", false
	}
	flags = s[end+1:]
	for _, f := range flags {
		if !strings.ContainsRune(regexFlags, f) {
			return "", "", false
		}
	}
	return s[1:end], flags, true
}

func inlineFlags(flags string) string {
	var b strings.Builder
	caseSensitive := strings.ContainsRune(flags, 'c')
	if !caseSensitive {
		b.WriteRune('i')
	}
	for _, f := range flags {
		if f == 'c' || (f == 'i' && !caseSensitive) {
			continue
		}
		if strings.ContainsRune(b.String(), f) {
			continue
		}
		b.WriteRune(f)
	}
	if b.Len() == 0 {
		return ""
	}
	return "(?" + b.String() + ")"
}
