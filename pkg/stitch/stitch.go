// Package stitch implements the Stitcher: the best-effort final pass that
// checks cross-chunk coherence and assembles the finished document.
package stitch

import (
	"regexp"
	"strings"

	"github.com/longformai/coherence/pkg/model"
)

// CoherenceBand summarizes how well the chunks hang together.
type CoherenceBand string

const (
	BandGood  CoherenceBand = "good"
	BandMixed CoherenceBand = "mixed"
	BandPoor  CoherenceBand = "poor"
)

// Report is the Stitcher's findings plus the assembled output.
type Report struct {
	Result      model.StitchResult
	FinalOutput string
	Band        CoherenceBand
}

// ChunkOutput pairs a chunk's text with the delta it contributed, in index
// order, as the Stitcher's input.
type ChunkOutput struct {
	Text  string
	Delta *model.ChunkDelta
}

var boilerplateTransition = regexp.MustCompile(`(?im)^(in conclusion|to summarize|as discussed above|moving on)[,:]?\s*`)

// Run performs the cross-chunk validation and assembles the final output.
// It never returns an error and has no failure path of its own; the band is
// derived only from the number of issues analyze reports (spec §4.H/§7).
func Run(skeleton *model.GlobalSkeleton, chunks []ChunkOutput) Report {
	conflicts, termDrift, danglingPremises, redundancies := analyze(chunks)
	seamsAdjusted, finalOutput := assemble(chunks)

	issues := len(conflicts) + len(termDrift) + len(danglingPremises) + len(redundancies)
	band := BandGood
	switch {
	case issues > 5:
		band = BandPoor
	case issues > 0:
		band = BandMixed
	}

	var notes strings.Builder
	writeList(&notes, "conflicts", conflicts)
	writeList(&notes, "term drift", termDrift)
	writeList(&notes, "dangling premises", danglingPremises)
	writeList(&notes, "redundancies", redundancies)

	return Report{
		Result: model.StitchResult{
			SeamsAdjusted: seamsAdjusted,
			Notes:         notes.String(),
		},
		FinalOutput: finalOutput,
		Band:        band,
	}
}

func writeList(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString(label)
	b.WriteString(": ")
	b.WriteString(strings.Join(items, "; "))
	b.WriteString("\n")
}

// analyze collects the conflicts each delta reports, claims that cite a
// prior premise ("as noted above") no earlier chunk stated, and claims
// repeated across chunks. Terms are only de-duplicated: deltas carry term
// names without definitions, so no term drift is detected and termDrift is
// always empty.
func analyze(chunks []ChunkOutput) (conflicts, termDrift, danglingPremises, redundancies []string) {
	seenClaims := map[string]bool{}
	seenTerms := map[string]bool{}

	for i, c := range chunks {
		if c.Delta == nil {
			continue
		}
		for _, conflict := range c.Delta.Conflicts {
			conflicts = append(conflicts, conflict)
		}
		for _, term := range c.Delta.Terms {
			key := strings.ToLower(term)
			if seenTerms[key] {
				continue
			}
			seenTerms[key] = true
		}
		for _, claim := range c.Delta.Claims {
			key := strings.ToLower(claim)
			if seenClaims[key] {
				redundancies = append(redundancies, claim)
				continue
			}
			seenClaims[key] = true
			if i > 0 && referencesPriorPremise(claim) && !anyPriorClaimMatches(chunks[:i], claim) {
				danglingPremises = append(danglingPremises, claim)
			}
		}
	}
	return
}

var priorPremiseRe = regexp.MustCompile(`(?i)\b(as (established|noted|shown) (above|earlier|previously))\b`)

func referencesPriorPremise(claim string) bool {
	return priorPremiseRe.MatchString(claim)
}

func anyPriorClaimMatches(prior []ChunkOutput, claim string) bool {
	for _, c := range prior {
		if c.Delta == nil {
			continue
		}
		for _, pc := range c.Delta.Claims {
			if strings.EqualFold(pc, claim) {
				return true
			}
		}
	}
	return false
}

// assemble concatenates chunk outputs with paragraph separators, removing
// duplicated boilerplate inter-chunk transitions as a light structural
// repair.
func assemble(chunks []ChunkOutput) (seamsAdjusted int, output string) {
	var parts []string
	for _, c := range chunks {
		text := c.Text
		if boilerplateTransition.MatchString(text) {
			text = boilerplateTransition.ReplaceAllString(text, "")
			seamsAdjusted++
		}
		parts = append(parts, strings.TrimSpace(text))
	}
	return seamsAdjusted, strings.Join(parts, "\n\n")
}
