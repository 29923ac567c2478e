// Package roomid normalizes building names and room identifiers so that rows
// from the portal, the lecture feed and manual bookings can be compared.
package roomid

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Unassigned is returned for room fields that carry no room number at all.
const Unassigned = "미지정"

var (
	aliasGroup    = regexp.MustCompile(`\(([^()]*)\)`)
	numericPrefix = regexp.MustCompile(`^\d+\s*`)
)

// Identity maps building abbreviations to canonical names and back.
type Identity struct {
	toCanonical map[string]string
	toShort     map[string]string
	// prefixes holds every known abbreviation and canonical name, longest
	// first, for room fields that glue the building onto the number.
	prefixes []string
}

// NewIdentity builds an Identity from an abbreviation → canonical table.
func NewIdentity(aliases map[string]string) *Identity {
	id := &Identity{
		toCanonical: make(map[string]string, len(aliases)*2),
		toShort:     make(map[string]string, len(aliases)),
	}
	for short, long := range aliases {
		short, long = clean(short), clean(long)
		if short == "" || long == "" {
			continue
		}
		id.toCanonical[short] = long
		id.toCanonical[long] = long
		if prev, ok := id.toShort[long]; !ok || len(short) < len(prev) {
			id.toShort[long] = short
		}
	}
	for k := range id.toCanonical {
		id.prefixes = append(id.prefixes, k)
	}
	sort.Slice(id.prefixes, func(i, j int) bool {
		if len(id.prefixes[i]) != len(id.prefixes[j]) {
			return len(id.prefixes[i]) > len(id.prefixes[j])
		}
		return id.prefixes[i] < id.prefixes[j]
	})
	return id
}

func clean(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// NormalizeBuilding returns the canonical name for a known abbreviation or
// canonical name. Unknown names come back trimmed but otherwise unchanged.
// Applying it twice is the same as applying it once.
func (id *Identity) NormalizeBuilding(name string) string {
	key := clean(name)
	if id == nil {
		return key
	}
	if long, ok := id.toCanonical[key]; ok {
		return long
	}
	return key
}

// ShortName returns the abbreviation used by the lecture feed for a building,
// or the input when none is known.
func (id *Identity) ShortName(name string) string {
	long := id.NormalizeBuilding(name)
	if id != nil {
		if short, ok := id.toShort[long]; ok {
			return short
		}
	}
	return long
}

// SameBuilding reports whether a and b normalize to the same building.
func (id *Identity) SameBuilding(a, b string) bool {
	return id.NormalizeBuilding(a) == id.NormalizeBuilding(b)
}

// SplitRoomField separates the building part of a lecture room field
// ("1공-301", "창101(창102)") from its room candidates.
//
// The building token is the text before "-", otherwise the leading run of
// non-digits, otherwise the longest known building prefix.
func (id *Identity) SplitRoomField(raw string) (building string, candidates []string) {
	bare := strings.TrimSpace(aliasGroup.ReplaceAllString(raw, ""))

	token, dashed := "", false
	if before, _, ok := strings.Cut(bare, "-"); ok && strings.TrimSpace(before) != "" {
		token, dashed = strings.TrimSpace(before), true
	} else if token = leadingNonDigits(bare); token == "" {
		// Abbreviations such as "1공" start with a digit.
		token = id.knownPrefix(bare)
	}

	candidates = ExtractRoomCandidates(raw)
	if token != "" && !dashed {
		for i, c := range candidates {
			if trimmed := strings.TrimSpace(strings.TrimPrefix(c, token)); trimmed != "" {
				candidates[i] = trimmed
			}
		}
	}
	if token == "" {
		return "", candidates
	}
	return id.NormalizeBuilding(token), candidates
}

func (id *Identity) knownPrefix(s string) string {
	if id == nil {
		return ""
	}
	s = clean(s)
	for _, p := range id.prefixes {
		if strings.HasPrefix(s, p) {
			return p
		}
	}
	return ""
}

func leadingNonDigits(s string) string {
	end := 0
	for i, r := range s {
		if unicode.IsDigit(r) {
			break
		}
		end = i + len(string(r))
	}
	return strings.TrimSpace(s[:end])
}

// ExtractRoomCandidates returns the primary room token followed by every
// parenthesized alias, each with its leading "building-" part removed.
// A field with no digits at all yields []string{Unassigned}.
func ExtractRoomCandidates(raw string) []string {
	raw = strings.TrimSpace(raw)
	if !strings.ContainsFunc(raw, isASCIIDigit) {
		return []string{Unassigned}
	}

	var out []string
	seen := make(map[string]bool)
	add := func(tok string) {
		tok = stripBuildingToken(tok)
		if tok == "" || seen[tok] {
			return
		}
		seen[tok] = true
		out = append(out, tok)
	}

	add(aliasGroup.ReplaceAllString(raw, ""))
	for _, m := range aliasGroup.FindAllStringSubmatch(raw, -1) {
		// "(301, 302)" lists several aliases in one group.
		for _, part := range strings.Split(m[1], ",") {
			add(part)
		}
	}
	if len(out) == 0 {
		return []string{Unassigned}
	}
	return out
}

func stripBuildingToken(tok string) string {
	tok = strings.TrimSpace(tok)
	if _, after, ok := strings.Cut(tok, "-"); ok {
		return strings.TrimSpace(after)
	}
	return tok
}

// ParseRoomNumber drops every non-digit so that "501호" and "501" compare equal.
func ParseRoomNumber(text string) string {
	var b strings.Builder
	for _, r := range text {
		if isASCIIDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isASCIIDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// CleanBuildingName strips the numeric ordering prefix the portal puts in
// front of building names ("12 창조관" → "창조관").
func CleanBuildingName(name string) string {
	return strings.TrimSpace(numericPrefix.ReplaceAllString(strings.TrimSpace(name), ""))
}
