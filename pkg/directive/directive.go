// Package directive parses a free-form instruction string into a
// structured generation plan: target length, section structure, citation
// requirements, register flags, and named sources to engage with.
package directive

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/longformai/coherence/pkg/wordutil"
)

// Section is one entry in the requested structure. WordCount is 0 when the
// instruction left it "to be distributed" — the Job Controller later
// allocates the remaining budget uniformly across such sections.
type Section struct {
	Name      string
	WordCount int
}

// Citations describes a requested citation discipline, e.g. "12 sources
// from the last 10 years".
type Citations struct {
	Type      string
	Count     int
	Timeframe string
}

// Plan is the structured output of Parse.
type Plan struct {
	TargetWordCount *int
	Structure       []Section
	Citations       *Citations

	AcademicRegister   bool
	NoBulletPoints     bool
	InternalSubsection bool
	LiteratureReview   bool

	PhilosophersToReference []string
}

var canonicalAbbrev = map[string]string{
	"intro":       "introduction",
	"lit review":  "literature review",
	"litreview":   "literature review",
	"concl":       "conclusion",
	"meth":        "methodology",
	"methods":     "methodology",
	"bg":          "background",
	"disc":        "discussion",
}

var defaultDissertationSections = []string{
	"introduction", "literature review", "methodology", "background",
	"analysis", "discussion", "implications", "conclusion",
}

var (
	sectionListRe  = regexp.MustCompile(`(?i)(?:sections?|chapters?)\s*:\s*([^.\n]+)`)
	namedSectionRe = regexp.MustCompile(`(?i)\b(introduction|lit(?:erature)?\s*review|methodology|meth|background|bg|analysis|discussion|disc|implications|conclusion|concl|intro)\b(?:\s*\(([\d,]+\.?\d*k?)\s*words?\))?`)
	citationsRe    = regexp.MustCompile(`(?i)(\d+)\s*(peer[- ]reviewed|academic|scholarly)?\s*(?:citations?|sources?|references?)(?:\s*(?:from|within)\s*(?:the\s*)?(?:last|past)\s*(\d+)\s*years?)?`)
	romanNumeralRe  = regexp.MustCompile(`(?i)\b(chapter|section)\s+([ivxlcdm]+)\b`)
	arabicNumeralRe = regexp.MustCompile(`(?i)\b(chapter|section)\s+(\d+)\b`)
	philosopherRe  = regexp.MustCompile(`(?i)(?:referencing|citing|drawing on|per)\s+([A-Z][a-zA-Z]+(?:\s+and\s+[A-Z][a-zA-Z]+)*)`)
)

var romanValues = map[rune]int{'i': 1, 'v': 5, 'x': 10, 'l': 50, 'c': 100, 'd': 500, 'm': 1000}

// Parse deterministically and idempotently converts a free-form instruction
// into a Plan. It never panics or returns an error — malformed input yields
// an empty Plan.
func Parse(instr string) Plan {
	var plan Plan
	instr = strings.TrimSpace(instr)
	if instr == "" {
		return plan
	}

	if target, ok := wordutil.ParseTargetLength(instr); ok {
		t := target
		plan.TargetWordCount = &t
	}

	plan.Structure = parseStructure(instr)

	if m := citationsRe.FindStringSubmatch(instr); m != nil {
		count, _ := strconv.Atoi(m[1])
		if count > 0 {
			c := &Citations{Type: strings.TrimSpace(m[2]), Count: count}
			if m[3] != "" {
				c.Timeframe = m[3] + " years"
			}
			if c.Type == "" {
				c.Type = "general"
			}
			plan.Citations = c
		}
	}

	lower := strings.ToLower(instr)
	plan.AcademicRegister = strings.Contains(lower, "academic") || strings.Contains(lower, "scholarly") || strings.Contains(lower, "formal register")
	plan.NoBulletPoints = strings.Contains(lower, "no bullet") || strings.Contains(lower, "without bullet") || strings.Contains(lower, "prose only")
	plan.InternalSubsection = strings.Contains(lower, "subsection") || strings.Contains(lower, "sub-section")
	plan.LiteratureReview = strings.Contains(lower, "literature review") || strings.Contains(lower, "lit review")

	if m := philosopherRe.FindStringSubmatch(instr); m != nil {
		for _, name := range strings.Split(m[1], " and ") {
			name = strings.TrimSpace(name)
			if name != "" {
				plan.PhilosophersToReference = append(plan.PhilosophersToReference, name)
			}
		}
	}

	return plan
}

// parseStructure extracts the ordered section list, merging duplicates
// (prefix-equal on the first 15 characters of the canonical name; first
// occurrence wins) and expanding canonical abbreviations.
func parseStructure(instr string) []Section {
	var names []string
	var wordCounts []int

	if m := sectionListRe.FindStringSubmatch(instr); m != nil {
		for _, part := range strings.Split(m[1], ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			names = append(names, canonicalize(part))
			wordCounts = append(wordCounts, 0)
		}
	}

	for _, m := range namedSectionRe.FindAllStringSubmatch(instr, -1) {
		names = append(names, canonicalize(m[1]))
		wordCounts = append(wordCounts, parseShorthandWords(m[2]))
	}

	// "Chapter IV" / "Section 3" style references, Roman or Arabic.
	for _, m := range romanNumeralRe.FindAllStringSubmatch(instr, -1) {
		kind := strings.ToLower(m[1])
		n := parseRomanNumeral(m[2])
		if n == 0 {
			continue
		}
		names = append(names, kind+" "+strconv.Itoa(n))
		wordCounts = append(wordCounts, 0)
	}
	for _, m := range arabicNumeralRe.FindAllStringSubmatch(instr, -1) {
		names = append(names, strings.ToLower(m[1])+" "+m[2])
		wordCounts = append(wordCounts, 0)
	}

	lower := strings.ToLower(instr)
	if strings.Contains(lower, "dissertation") && len(names) == 0 {
		for _, s := range defaultDissertationSections {
			names = append(names, s)
			wordCounts = append(wordCounts, 0)
		}
	}

	return dedupSections(names, wordCounts)
}

func canonicalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.Join(strings.Fields(name), " ")
	if full, ok := canonicalAbbrev[name]; ok {
		return full
	}
	return name
}

func parseShorthandWords(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if strings.HasSuffix(strings.ToLower(s), "k") {
		f, err := strconv.ParseFloat(s[:len(s)-1], 64)
		if err != nil {
			return 0
		}
		return int(f * 1000)
	}
	n, err := strconv.Atoi(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return 0
	}
	return n
}

// dedupSections merges entries whose canonical name shares the first 15
// characters, keeping the first occurrence's word count unless it was zero
// and a later duplicate supplies one.
func dedupSections(names []string, wordCounts []int) []Section {
	var out []Section
	seen := map[string]int{} // prefix -> index in out

	for i, name := range names {
		prefix := name
		if len(prefix) > 15 {
			prefix = prefix[:15]
		}
		if idx, ok := seen[prefix]; ok {
			if out[idx].WordCount == 0 && wordCounts[i] > 0 {
				out[idx].WordCount = wordCounts[i]
			}
			continue
		}
		seen[prefix] = len(out)
		out = append(out, Section{Name: name, WordCount: wordCounts[i]})
	}
	return out
}

// parseRomanNumeral converts a lowercase roman numeral to its integer value;
// used when normalizing "Chapter IV" style references into a plain index.
func parseRomanNumeral(s string) int {
	s = strings.ToLower(s)
	total := 0
	prev := 0
	for i := len(s) - 1; i >= 0; i-- {
		v, ok := romanValues[rune(s[i])]
		if !ok {
			return 0
		}
		if v < prev {
			total -= v
		} else {
			total += v
		}
		prev = v
	}
	return total
}
