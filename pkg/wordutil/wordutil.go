// Package wordutil provides the word-counting and length-target heuristics
// shared by the directive parser, chunker, and length enforcer.
package wordutil

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// CountWords returns the count of whitespace-separated non-empty tokens.
func CountWords(s string) int {
	return len(strings.Fields(s))
}

var (
	shorthandRe   = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*k\b`)
	numberWordsRe = regexp.MustCompile(`(?i)([\d,]+)\s*(?:-|–|to)\s*([\d,]+)\s*words?`)
	plainNumberRe = regexp.MustCompile(`(?i)([\d,]+)\s*words?`)
	bareNumberRe  = regexp.MustCompile(`\b(\d{2,6})\b`)
)

const (
	// DefaultThesisWords and DefaultDissertationWords apply when the
	// instruction mentions the keyword but no explicit number.
	DefaultThesisWords       = 20000
	DefaultDissertationWords = 40000
)

// ParseTargetLength recognizes "Nk", "N,NNN words", "N-M words", and
// academic-register keywords ("thesis", "dissertation", "PhD", "master's")
// implying default sizes. Returns 0, false when no target can be
// determined — callers fall back to a downstream default rather than
// guessing.
func ParseTargetLength(instr string) (int, bool) {
	instr = strings.TrimSpace(instr)
	if instr == "" {
		return 0, false
	}
	lower := strings.ToLower(instr)

	// Range "N-M words": take the midpoint.
	if m := numberWordsRe.FindStringSubmatch(instr); m != nil {
		lo := parseIntCommas(m[1])
		hi := parseIntCommas(m[2])
		if lo > 0 && hi > 0 {
			return (lo + hi) / 2, true
		}
	}

	// Explicit "N words" / "N,NNN words" — a literal number with the word
	// "word(s)" attached always wins, even alongside an academic keyword
	// ("write a 90000 word dissertation" means exactly 90000, not 40000).
	if m := plainNumberRe.FindStringSubmatch(instr); m != nil {
		if n := parseIntCommas(m[1]); n > 0 {
			if n < 500 && strings.Contains(lower, "thesis") {
				n *= 1000
			}
			return n, true
		}
	}

	// Shorthand "20k", "2.5K".
	if m := shorthandRe.FindStringSubmatch(instr); m != nil {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			return int(math.Round(f * 1000)), true
		}
	}

	// A bare number under 500, alongside "thesis", is read as thousands
	// ("a 20 thesis" means 20k words).
	if strings.Contains(lower, "thesis") {
		if m := bareNumberRe.FindStringSubmatch(instr); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > 0 && n < 500 {
				return n * 1000, true
			}
		}
	}

	switch {
	case strings.Contains(lower, "dissertation"):
		return DefaultDissertationWords, true
	case strings.Contains(lower, "thesis"), strings.Contains(lower, "phd"), strings.Contains(lower, "master's"), strings.Contains(lower, "masters"):
		return DefaultThesisWords, true
	}

	return 0, false
}

func parseIntCommas(s string) int {
	s = strings.ReplaceAll(s, ",", "")
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// LengthMode classifies how aggressively the job must grow the input.
type LengthMode string

const (
	ModeTrim     LengthMode = "trim"     // ratio < 0.9
	ModeMaintain LengthMode = "maintain" // 0.9 <= ratio <= 1.1
	ModeExpand   LengthMode = "expand"   // 1.1 < ratio <= 3
	ModeRewrite  LengthMode = "rewrite"  // ratio > 3, effectively ground-up generation
)

// LengthConfig is the computed plan handed to the chunker: how many words
// the job should ultimately contain and how big each chunk should aim to be.
type LengthConfig struct {
	InputWords  int
	TargetWords int
	Ratio       float64
	Mode        LengthMode
	ChunkTarget int
}

// CalculateLengthConfig derives ratio = mid/input, classifies the length
// mode, and computes chunkTarget = clamp(round(input*ratio/numChunks),
// chunkMin, chunkMax).
func CalculateLengthConfig(inputWords, chunkMin, chunkMax, numChunks int, instr string) LengthConfig {
	target, ok := ParseTargetLength(instr)
	if !ok || target <= 0 {
		target = inputWords
	}

	ratio := 1.0
	if inputWords > 0 {
		ratio = float64(target) / float64(inputWords)
	}

	var mode LengthMode
	switch {
	case ratio > 3:
		mode = ModeRewrite
	case ratio > 1.1:
		mode = ModeExpand
	case ratio < 0.9:
		mode = ModeTrim
	default:
		mode = ModeMaintain
	}

	if numChunks <= 0 {
		numChunks = 1
	}
	chunkTarget := int(math.Round(float64(inputWords) * ratio / float64(numChunks)))
	chunkTarget = clamp(chunkTarget, chunkMin, chunkMax)

	return LengthConfig{
		InputWords:  inputWords,
		TargetWords: target,
		Ratio:       ratio,
		Mode:        mode,
		ChunkTarget: chunkTarget,
	}
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// ChunkBand returns the acceptable {min, target, max} word band for a chunk
// given its target: minWords = floor(target*0.85), maxWords =
// ceil(target*1.15) (spec §3). This is the hard pass/fail band persisted
// with the chunk and carried on the wire; it is distinct from
// pkg/enforce's 0.95 completion-ratio threshold, which governs when the
// Length Enforcer stops driving continuations within this same band.
func ChunkBand(target int) (min, max int) {
	min = int(math.Floor(float64(target) * 0.85))
	max = int(math.Ceil(float64(target) * 1.15))
	return min, max
}

// FormatDuration renders a duration for the progress stream: seconds alone
// under a minute, "MmSs" beyond that.
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	m := d / time.Minute
	s := (d % time.Minute) / time.Second
	return fmt.Sprintf("%dm%ds", m, s)
}

// EstimateRemaining extrapolates time left from the pace set by the chunks
// completed so far: elapsed/completed * (total-completed). Returns 0 before
// any chunk has completed, since there's no pace yet to extrapolate from.
func EstimateRemaining(elapsed time.Duration, completed, total int) time.Duration {
	if completed <= 0 || total <= completed {
		return 0
	}
	perChunk := elapsed / time.Duration(completed)
	return perChunk * time.Duration(total-completed)
}
