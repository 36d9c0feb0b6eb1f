// Package models implements the static model catalog: base descriptors,
// suffix-variant synthesis, and the thinking/search policy that the
// translator and upstream pipeline consult when routing a request.
package models

import (
	"fmt"
	"sort"
	"strings"
)

// Descriptor describes one published model name (a base model or a
// synthesized variant).
type Descriptor struct {
	Name             string
	DisplayName      string
	InputTokenLimit  int
	OutputTokenLimit int
	SupportsThinking bool
	SupportsSearch   bool
}

// ThinkingPolicy gives the thinking budget and include-thoughts flag for a
// resolved (base, variant) pair. BudgetTokens == -1 means "let upstream
// choose".
type ThinkingPolicy struct {
	BudgetTokens    int
	IncludeThoughts bool
}

// Flags describes the suffix variant a requested name resolved to.
type Flags struct {
	Search   bool
	Thinking thinkingVariant
}

type thinkingVariant int

const (
	thinkingDefault thinkingVariant = iota
	thinkingNone
	thinkingMax
)

const suffixSearch = "-search"
const suffixNoThinking = "-nothinking"
const suffixMaxThinking = "-maxthinking"

// base holds the hard-coded minimum viable catalogue (spec §4.1): four
// flash-family entries (one of which is the lite variant) and two
// pro-family entries, across the generations actually required by the
// resolver/thinking-policy scenarios. See DESIGN.md for the interpretation
// of "six entries... plus a lite variant" this encodes.
type base struct {
	Descriptor
	thinkingRow string // "flash" | "pro" — which thinking budget row applies
}

var baseModels = []base{
	{Descriptor{"gemini-1.5-flash", "Gemini 1.5 Flash", 1048576, 8192, false, true}, "flash"},
	{Descriptor{"gemini-2.0-flash", "Gemini 2.0 Flash", 1048576, 65535, true, true}, "flash"},
	{Descriptor{"gemini-2.5-flash", "Gemini 2.5 Flash", 1048576, 65535, true, true}, "flash"},
	{Descriptor{"gemini-2.5-flash-lite", "Gemini 2.5 Flash-Lite", 1048576, 65535, false, true}, "flash"},
	{Descriptor{"gemini-2.0-pro", "Gemini 2.0 Pro", 1048576, 65535, true, true}, "pro"},
	{Descriptor{"gemini-2.5-pro", "Gemini 2.5 Pro", 1048576, 65535, true, true}, "pro"},
}

// thinkingBudgets maps a thinking row to {nothinking, default, max}. The
// "pro-preview (next gen)" row from the spec's thinking table has no base
// model mapped to it in this catalogue — reserved for a future pro
// generation, see DESIGN.md.
var thinkingBudgets = map[string][3]int{
	"flash": {0, -1, 24576},
	"pro":   {128, -1, 32768},
}

// suffixesByLength lists every synthesizable suffix, longest first, so
// resolution always strips the longest match (avoids "-flash-lite" being
// chopped into "-flash").
var suffixesByLength = []string{suffixMaxThinking, suffixNoThinking, suffixSearch}

func init() {
	sort.Slice(suffixesByLength, func(i, j int) bool {
		return len(suffixesByLength[i]) > len(suffixesByLength[j])
	})
}

func baseByName(name string) (base, bool) {
	for _, b := range baseModels {
		if b.Name == name {
			return b, true
		}
	}
	return base{}, false
}

// Resolve strips the longest matching suffix from name and returns the
// underlying base descriptor plus the variant flags. Unknown base names
// fail the resolve operation.
func Resolve(name string) (Descriptor, Flags, error) {
	candidate := name
	var flags Flags

	for _, suffix := range suffixesByLength {
		if strings.HasSuffix(candidate, suffix) {
			trimmed := strings.TrimSuffix(candidate, suffix)
			if _, ok := baseByName(trimmed); ok {
				switch suffix {
				case suffixSearch:
					flags.Search = true
				case suffixNoThinking:
					flags.Thinking = thinkingNone
				case suffixMaxThinking:
					flags.Thinking = thinkingMax
				}
				candidate = trimmed
				break
			}
		}
	}

	b, ok := baseByName(candidate)
	if !ok {
		return Descriptor{}, Flags{}, fmt.Errorf("models: unknown base model %q", name)
	}
	return b.Descriptor, flags, nil
}

// ThinkingFor returns the thinking policy for name, or ok=false if the
// resolved base model does not support thinking.
func ThinkingFor(name string) (ThinkingPolicy, bool, error) {
	desc, flags, err := Resolve(name)
	if err != nil {
		return ThinkingPolicy{}, false, err
	}
	if !desc.SupportsThinking {
		return ThinkingPolicy{}, false, nil
	}
	b, _ := baseByName(desc.Name)
	row := thinkingBudgets[b.thinkingRow]

	switch flags.Thinking {
	case thinkingNone:
		return ThinkingPolicy{BudgetTokens: row[0], IncludeThoughts: false}, true, nil
	case thinkingMax:
		return ThinkingPolicy{BudgetTokens: row[2], IncludeThoughts: true}, true, nil
	default:
		return ThinkingPolicy{BudgetTokens: row[1], IncludeThoughts: true}, true, nil
	}
}

// ThinkingForEffort maps an OpenAI-style reasoning_effort value to a
// thinking policy for the given resolved base model name. A suffix variant
// on the original requested name always wins over this mapping — callers
// should only invoke this when the request carried reasoning_effort and no
// -nothinking/-maxthinking suffix.
func ThinkingForEffort(baseName, effort string) (ThinkingPolicy, bool, error) {
	desc, _, err := Resolve(baseName)
	if err != nil {
		return ThinkingPolicy{}, false, err
	}
	if !desc.SupportsThinking {
		return ThinkingPolicy{}, false, nil
	}
	b, _ := baseByName(desc.Name)
	row := thinkingBudgets[b.thinkingRow]

	switch effort {
	case "minimal":
		return ThinkingPolicy{BudgetTokens: row[0], IncludeThoughts: false}, true, nil
	case "low":
		return ThinkingPolicy{BudgetTokens: 1000, IncludeThoughts: true}, true, nil
	case "high":
		return ThinkingPolicy{BudgetTokens: row[2], IncludeThoughts: true}, true, nil
	default: // "medium" or unrecognized
		return ThinkingPolicy{BudgetTokens: row[1], IncludeThoughts: true}, true, nil
	}
}

// IsSearch reports whether name resolves to a search-tool variant.
func IsSearch(name string) bool {
	_, flags, err := Resolve(name)
	return err == nil && flags.Search
}

// List returns the full published catalogue: every base entry union every
// synthesized variant valid for it, sorted by name.
func List() []Descriptor {
	var out []Descriptor
	for _, b := range baseModels {
		out = append(out, b.Descriptor)
		out = append(out, variant(b, suffixSearch, "search"))
		if b.SupportsThinking {
			out = append(out, variant(b, suffixNoThinking, "nothinking"))
			out = append(out, variant(b, suffixMaxThinking, "maxthinking"))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func variant(b base, suffix, label string) Descriptor {
	d := b.Descriptor
	d.Name = b.Name + suffix
	d.DisplayName = fmt.Sprintf("%s (%s)", b.DisplayName, label)
	return d
}
