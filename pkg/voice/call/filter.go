package call

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// FilterPolicy decides which transcript fragments are real user speech and
// which are background media, noise, or misrecognition. Short voice chunks
// routinely pick up TV outros and foreign-language broadcast audio.
type FilterPolicy struct {
	BannedPatterns   []*regexp.Regexp
	OffTopicTokens   []string
	MinChars         int
	MinWords         int
	MaxNonLatinRatio float64
}

func DefaultFilterPolicy() FilterPolicy {
	return FilterPolicy{
		BannedPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)thanks? for watching`),
			regexp.MustCompile(`(?i)thank you for watching`),
			regexp.MustCompile(`(?i)like and subscribe`),
			regexp.MustCompile(`(?i)share this video`),
			regexp.MustCompile(`(?i)subscribe( to| on)? (the )?channel`),
			regexp.MustCompile(`(?i)don'?t forget to (like|subscribe|comment)`),
			regexp.MustCompile(`(?i)see you in the next (video|one)`),
			regexp.MustCompile(`(?i)hit the bell`),
			regexp.MustCompile(`(?i)smash that like`),
			regexp.MustCompile(`(?i)\bmbc\b`),
		},
		OffTopicTokens:   []string{"video", "channel", "podcast", "watching"},
		MinChars:         6,
		MinWords:         2,
		MaxNonLatinRatio: 0.4,
	}
}

var multiSpace = regexp.MustCompile(`\s{2,}`)

func (p FilterPolicy) stripBanned(s string) string {
	out := s
	for _, re := range p.BannedPatterns {
		out = re.ReplaceAllString(out, " ")
	}
	return strings.TrimSpace(multiSpace.ReplaceAllString(out, " "))
}

func (p FilterPolicy) unrelated(s string) bool {
	t := strings.ToLower(strings.TrimSpace(s))
	if t == "" {
		return true
	}
	words := len(strings.Fields(t))
	if len(t) < p.MinChars || words < p.MinWords {
		return true
	}
	hits := 0
	for _, tok := range p.OffTopicTokens {
		if strings.Contains(t, tok) {
			hits++
		}
	}
	return hits >= 2
}

// foreignForLatin reports whether the text is mostly CJK/Hangul letters,
// which for a Latin-script session means bleed-through from other audio.
func (p FilterPolicy) foreignForLatin(s string) bool {
	nonLatin, letters := 0, 0
	for _, r := range s {
		isCJK := unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
			unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r)
		if isCJK {
			nonLatin++
			letters++
		} else if unicode.IsLetter(r) && r < 0x3000 {
			letters++
		}
	}
	if letters == 0 {
		return false
	}
	return float64(nonLatin)/float64(letters) > p.MaxNonLatinRatio
}

// latinScript reports whether the session language is written in Latin
// script, which enables the non-Latin bleed-through check.
func latinScript(lang string) bool {
	switch strings.ToLower(strings.SplitN(lang, "-", 2)[0]) {
	case "", "en", "es", "fr", "de", "it", "pt", "nl":
		return true
	default:
		return false
	}
}

// AcceptFragment cleans one transcript fragment and reports whether it
// should be appended to the utterance buffer.
func (p FilterPolicy) AcceptFragment(raw, lang string) (string, bool) {
	usable := p.stripBanned(raw)
	if usable == "" {
		return "", false
	}
	if p.unrelated(usable) {
		return "", false
	}
	if latinScript(lang) && p.foreignForLatin(usable) {
		return "", false
	}
	return usable, true
}

var sentenceSplit = regexp.MustCompile(`[.!?]\s+|[\n\r]+`)
var fragmentSplit = regexp.MustCompile(`[.!?\n\r]+`)

// SanitizeFinal cleans a whole buffered utterance before it is sent as a
// chat message: banned phrases stripped, off-topic and foreign sentences
// dropped. If nothing survives sentence filtering, the longest raw fragment
// is kept so a hard-won utterance is not lost to over-filtering.
func (p FilterPolicy) SanitizeFinal(raw, lang string) string {
	t := p.stripBanned(raw)
	if t == "" {
		return ""
	}
	var kept []string
	for _, s := range sentenceSplit.Split(t, -1) {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if p.unrelated(s) {
			continue
		}
		if latinScript(lang) && p.foreignForLatin(s) {
			continue
		}
		kept = append(kept, s)
	}
	if len(kept) == 0 {
		frags := fragmentSplit.Split(t, -1)
		for i := range frags {
			frags[i] = strings.TrimSpace(frags[i])
		}
		sort.SliceStable(frags, func(i, j int) bool { return len(frags[i]) > len(frags[j]) })
		if len(frags) == 0 || frags[0] == "" {
			return ""
		}
		return frags[0]
	}
	out := strings.TrimSpace(multiSpace.ReplaceAllString(strings.Join(kept, " "), " "))
	if strings.HasPrefix(strings.ToLower(lang), "en") && out != "" {
		runes := []rune(out)
		runes[0] = unicode.ToUpper(runes[0])
		out = string(runes)
		if !strings.ContainsAny(out[len(out)-1:], ".!?") {
			out += "."
		}
	}
	return out
}
