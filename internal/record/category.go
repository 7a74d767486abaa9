package record

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultAliases collapses synonymous spellings to one canonical category.
// Keys are already in slug form.
var DefaultAliases = map[string]string{
	"pre-starter":   "starter",
	"prestarter":    "starter",
	"chick-starter": "starter",
	"developer":     "grower",
	"pullet-grower": "grower",
	"layers":        "layer",
	"laying":        "layer",
	"layer-mash":    "layer",
	"finishing":     "finisher",
}

// Normalizer maps raw category spellings to canonical keys.
//
// Thread-safety: a Normalizer is immutable after construction.
type Normalizer struct {
	aliases map[string]string
}

// NewNormalizer creates a normalizer with DefaultAliases plus extra.
// Extra keys and values are slugged before use, so "Pre Starter: Starter" works.
// Extra entries win over defaults.
func NewNormalizer(extra map[string]string) *Normalizer {
	aliases := make(map[string]string, len(DefaultAliases)+len(extra))
	for k, v := range DefaultAliases {
		aliases[k] = v
	}
	for k, v := range extra {
		from, to := slug(k), slug(v)
		if from == "" || to == "" {
			continue
		}
		aliases[from] = to
	}
	return &Normalizer{aliases: aliases}
}

var defaultNormalizer = NewNormalizer(nil)

// Normalize maps raw to its canonical category using DefaultAliases.
//
//	Normalize("Pre-Starter") == "starter"
//	Normalize("pre_starter") == "starter"
//	Normalize("PRE STARTER") == "starter"
func Normalize(raw string) string {
	return defaultNormalizer.Normalize(raw)
}

// Normalize returns the canonical key for raw, or "" if raw has no usable runes.
func (n *Normalizer) Normalize(raw string) string {
	s := slug(raw)
	if s == "" {
		return ""
	}
	if canonical, ok := n.aliases[s]; ok {
		return canonical
	}
	return s
}

// slug folds case and diacritics and joins words with single hyphens.
func slug(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	// Transformers carry state, so build them per call.
	stripMarks := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(stripMarks, raw)
	if err != nil {
		folded = raw
	}
	folded = cases.Fold().String(folded)

	var b strings.Builder
	b.Grow(len(folded))
	pendingHyphen := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}
	return b.String()
}
