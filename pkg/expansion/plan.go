package expansion

import (
	"github.com/longformai/coherence/pkg/config"
	"github.com/longformai/coherence/pkg/directive"
	"github.com/longformai/coherence/pkg/store"
	"github.com/longformai/coherence/pkg/wordutil"
)

// Section is one resolved unit of an expansion plan: a name pulled from the
// directive's structure list and a concrete word band.
type Section struct {
	Name string
	Band store.ChunkBand
}

// defaultSectionName is used when the directive names no structure at all
// (a bare "write me 3000 words on X" with no chapter list).
const defaultSectionName = "body"

// BuildSections resolves a directive.Plan into an ordered list of Sections
// with concrete word targets. Sections the directive gave an explicit word
// count keep it; the remaining target budget is distributed uniformly
// across the rest (spec §4.B/§9's "distribute remaining budget uniformly"
// rule, reused here instead of re-derived).
func BuildSections(plan directive.Plan, defaults *config.LengthDefaults) []Section {
	structure := plan.Structure
	if len(structure) == 0 {
		structure = []directive.Section{{Name: defaultSectionName}}
	}

	target := defaults.DissertationWords
	if plan.TargetWordCount != nil {
		target = *plan.TargetWordCount
	}

	explicit, unset := 0, 0
	for _, s := range structure {
		if s.WordCount > 0 {
			explicit += s.WordCount
		} else {
			unset++
		}
	}

	remaining := target - explicit
	if remaining < 0 {
		remaining = 0
	}
	perUnset := 0
	if unset > 0 {
		perUnset = remaining / unset
	}

	sections := make([]Section, len(structure))
	for i, s := range structure {
		wc := s.WordCount
		if wc <= 0 {
			wc = perUnset
		}
		if wc < defaults.ChunkTargetMin {
			wc = defaults.ChunkTargetMin
		}
		min, max := wordutil.ChunkBand(wc)
		sections[i] = Section{Name: s.Name, Band: store.ChunkBand{Min: min, Target: wc, Max: max}}
	}
	return sections
}
