package voice

import (
	"encoding/json"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Voice string parsing
// A compact voice string configures one synthesis call:
//
//	name[-rate][-pitch][-volume][+s]
//
// The numeric components are positional adjustments on a 0-10 scale; the
// trailing "+s" marks that the output should be kept as a durable copy.
// Voice strings are configuration data, not user-validated input, so parsing
// is total: a string that doesn't follow the grammar is passed through
// verbatim as the voice name.
// ---------------------------------------------------------------------------

// MaxAdjustment is the upper bound for rate/pitch/volume overrides.
// Values above it are dropped, never cause the request to fail.
const MaxAdjustment = 10

// persistSuffix marks a voice string whose output should be saved.
const persistSuffix = "+s"

// Spec is the parsed synthesis configuration derived from a voice string.
// Nil adjustment fields mean "use the configured default".
type Spec struct {
	BaseVoice string
	Rate      *int
	Pitch     *int
	Volume    *int
	Persist   bool
}

// StripPersist splits the trailing save marker off a raw voice string.
// It runs before alias resolution so that "custom+s" finds the "custom" alias.
func StripPersist(raw string) (name string, persist bool) {
	if strings.HasSuffix(raw, persistSuffix) {
		return strings.TrimSuffix(raw, persistSuffix), true
	}
	return raw, false
}

// Parse parses a voice string into a Spec. It never fails: if the string
// doesn't start with a recognizable voice name, the whole string becomes
// the base voice with no adjustments. Trailing content after the numeric
// adjustments is ignored.
func Parse(raw string) Spec {
	name, persist := StripPersist(raw)
	spec := Spec{Persist: persist}

	base, rest := splitBase(name)
	if base == "" {
		log.Printf("[Voice] Unrecognized voice string format: %q, using it verbatim", raw)
		spec.BaseVoice = name
		return spec
	}
	spec.BaseVoice = base

	labels := []string{"rate", "pitch", "volume"}
	targets := []**int{&spec.Rate, &spec.Pitch, &spec.Volume}
	for i := 0; i < len(targets); i++ {
		value, remaining, ok := nextAdjustment(rest)
		if !ok {
			break
		}
		rest = remaining
		if value > MaxAdjustment {
			log.Printf("[Voice] %s adjustment %d outside of bounds for %q, ignoring", labels[i], value, raw)
			continue
		}
		v := value
		*targets[i] = &v
	}

	return spec
}

// splitBase consumes the leading voice name: a run of ASCII letters, digits,
// and underscores. An empty base means the string doesn't match the grammar.
func splitBase(s string) (base, rest string) {
	i := 0
	for i < len(s) && isNameChar(s[i]) {
		i++
	}
	return s[:i], s[i:]
}

// nextAdjustment consumes one "-<digits>" segment. A segment that isn't a
// plain non-negative integer ends parsing; whatever follows is ignored.
func nextAdjustment(s string) (value int, rest string, ok bool) {
	if !strings.HasPrefix(s, "-") {
		return 0, s, false
	}
	s = s[1:]
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, s, false
	}
	n, err := strconv.Atoi(s[:i])
	if err != nil {
		return 0, s, false
	}
	return n, s[i:], true
}

func isNameChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}

// ---------------------------------------------------------------------------
// Voice aliases
// A JSON file maps friendly names to full voice strings, so deployments can
// expose e.g. "narrator" -> "zhifeng_emo-4-6". The mapped value goes through
// the same parser, so aliases can carry their own adjustments.
// ---------------------------------------------------------------------------

// Aliases maps alias names to voice strings.
type Aliases map[string]string

// LoadAliases reads the alias table from a JSON file. A missing or invalid
// file is logged and yields an empty table — aliases are optional.
func LoadAliases(path string) Aliases {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[Voice] %s not found, using no voice aliases", path)
		return Aliases{}
	}

	var aliases Aliases
	if err := json.Unmarshal(data, &aliases); err != nil {
		log.Printf("[Voice] Error decoding %s: %v, using no voice aliases", path, err)
		return Aliases{}
	}

	log.Printf("[Voice] Loaded %d voice aliases from %s", len(aliases), path)
	return aliases
}

// Resolve returns the mapped voice string for name, or name itself when
// no alias exists.
func (a Aliases) Resolve(name string) string {
	if mapped, ok := a[name]; ok {
		return mapped
	}
	return name
}

// Names returns the alias names in sorted order.
func (a Aliases) Names() []string {
	names := make([]string, 0, len(a))
	for name := range a {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
