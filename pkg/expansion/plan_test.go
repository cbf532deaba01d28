package expansion

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/longformai/coherence/pkg/config"
	"github.com/longformai/coherence/pkg/directive"
)

func testDefaults() *config.LengthDefaults {
	return &config.LengthDefaults{ChunkTargetMin: 50, ChunkTargetMax: 5000, DissertationWords: 40000}
}

func TestBuildSections_NoStructureFallsBackToSingleBody(t *testing.T) {
	plan := directive.Plan{}
	target := 1000
	plan.TargetWordCount = &target

	sections := BuildSections(plan, testDefaults())
	assert.Len(t, sections, 1)
	assert.Equal(t, defaultSectionName, sections[0].Name)
	assert.Equal(t, 1000, sections[0].Band.Target)
}

func TestBuildSections_DistributesRemainingBudgetUniformly(t *testing.T) {
	target := 900
	plan := directive.Plan{
		TargetWordCount: &target,
		Structure: []directive.Section{
			{Name: "introduction"},
			{Name: "body"},
			{Name: "conclusion"},
		},
	}

	sections := BuildSections(plan, testDefaults())
	require := assert.New(t)
	require.Len(sections, 3)
	for _, s := range sections {
		require.Equal(300, s.Band.Target)
	}
}

func TestBuildSections_ExplicitCountsAreKeptAndRemainderSplitAcrossRest(t *testing.T) {
	target := 1000
	plan := directive.Plan{
		TargetWordCount: &target,
		Structure: []directive.Section{
			{Name: "introduction", WordCount: 200},
			{Name: "body"},
			{Name: "conclusion"},
		},
	}

	sections := BuildSections(plan, testDefaults())
	require := assert.New(t)
	require.Len(sections, 3)
	require.Equal(200, sections[0].Band.Target)
	// remaining 800 split across the two unset sections.
	require.Equal(400, sections[1].Band.Target)
	require.Equal(400, sections[2].Band.Target)
}

func TestBuildSections_ClampsBelowChunkTargetMin(t *testing.T) {
	target := 10
	plan := directive.Plan{
		TargetWordCount: &target,
		Structure:       []directive.Section{{Name: "body"}},
	}

	defaults := testDefaults()
	sections := BuildSections(plan, defaults)
	assert.Equal(t, defaults.ChunkTargetMin, sections[0].Band.Target)
}

func TestBuildSections_AllSectionsExplicitLeavesNoRemainder(t *testing.T) {
	target := 300
	plan := directive.Plan{
		TargetWordCount: &target,
		Structure: []directive.Section{
			{Name: "introduction", WordCount: 100},
			{Name: "conclusion", WordCount: 200},
		},
	}

	sections := BuildSections(plan, testDefaults())
	require := assert.New(t)
	require.Len(sections, 2)
	require.Equal(100, sections[0].Band.Target)
	require.Equal(200, sections[1].Band.Target)
}

func TestBuildSections_NoDirectiveTargetFallsBackToDissertationDefault(t *testing.T) {
	plan := directive.Plan{Structure: []directive.Section{{Name: "body"}}}

	sections := BuildSections(plan, testDefaults())
	assert.Equal(t, testDefaults().DissertationWords, sections[0].Band.Target)
}

func TestBuildSections_BandUsesSpecFixedRatios(t *testing.T) {
	target := 1000
	plan := directive.Plan{TargetWordCount: &target, Structure: []directive.Section{{Name: "body"}}}

	sections := BuildSections(plan, testDefaults())
	assert.Equal(t, 850, sections[0].Band.Min)
	assert.Equal(t, 1150, sections[0].Band.Max)
}
