package directive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_EmptyInput(t *testing.T) {
	plan := Parse("")
	assert.Nil(t, plan.TargetWordCount)
	assert.Empty(t, plan.Structure)
}

func TestParse_TargetWordCount(t *testing.T) {
	plan := Parse("TURN THIS INTO A 20000 WORD DISSERTATION")
	require.NotNil(t, plan.TargetWordCount)
	assert.Equal(t, 20000, *plan.TargetWordCount)
}

func TestParse_DissertationDefaultStructure(t *testing.T) {
	plan := Parse("TURN THIS INTO A 20000 WORD DISSERTATION")
	assert.Len(t, plan.Structure, 8)
	assert.Equal(t, "introduction", plan.Structure[0].Name)
}

func TestParse_AbbreviationsCanonicalized(t *testing.T) {
	plan := Parse("Sections: Intro, Lit Review, Concl")
	names := make([]string, len(plan.Structure))
	for i, s := range plan.Structure {
		names[i] = s.Name
	}
	assert.Contains(t, names, "introduction")
	assert.Contains(t, names, "literature review")
	assert.Contains(t, names, "conclusion")
}

func TestParse_DuplicateSectionsMergedFirstWins(t *testing.T) {
	plan := Parse("introduction (500 words) ... introduction (900 words)")
	count := 0
	var wc int
	for _, s := range plan.Structure {
		if s.Name == "introduction" {
			count++
			wc = s.WordCount
		}
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, 500, wc)
}

func TestParse_Citations(t *testing.T) {
	plan := Parse("include 12 peer-reviewed citations from the last 10 years")
	require.NotNil(t, plan.Citations)
	assert.Equal(t, 12, plan.Citations.Count)
	assert.Equal(t, "10 years", plan.Citations.Timeframe)
}

func TestParse_Flags(t *testing.T) {
	plan := Parse("write in an academic register, no bullet points, with subsections")
	assert.True(t, plan.AcademicRegister)
	assert.True(t, plan.NoBulletPoints)
	assert.True(t, plan.InternalSubsection)
}

func TestParse_Idempotent(t *testing.T) {
	instr := "TURN THIS INTO A 20000 WORD DISSERTATION with 12 academic citations"
	a := Parse(instr)
	b := Parse(instr)
	assert.Equal(t, a, b)
}

func TestParse_NeverPanicsOnGarbage(t *testing.T) {
	assert.NotPanics(t, func() {
		Parse("!!!@@@ %%% \x00\x01 asdkjfh 20 1k k words words words")
	})
}

func TestParse_AmbiguousNumberResolvesToNil(t *testing.T) {
	plan := Parse("make it 20 please")
	assert.Nil(t, plan.TargetWordCount)
}
