package tier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aidekit/scribe/pkg/page"
)

func populatedSnapshot() *page.Snapshot {
	s := page.NewSnapshot()
	s.Entities["page"] = &page.Entity{ID: "page", Parent: page.RootParent, Display: page.DisplayPage, CreatedSeq: 1, UpdatedSeq: 1}
	s.Entities["guests"] = &page.Entity{ID: "guests", Parent: "page", Display: page.DisplaySection, CreatedSeq: 2, UpdatedSeq: 2}
	s.Order = []string{"page", "guests"}
	s.CreateSeq, s.UpdateSeq = 2, 2
	return s
}

func TestClassify(t *testing.T) {
	populated := populatedSnapshot()
	empty := page.NewSnapshot()

	cases := []struct {
		name    string
		message string
		snap    *page.Snapshot
		want    Tier
		rule    string
	}{
		{"first turn routes structural", "I run a poker league, 8 guys, every other Thursday", empty, Structural, RuleEmptyPage},
		{"trivial update routes fast", "Aunt Linda RSVPed yes", populated, Fast, RuleDefaultFast},
		{"structural-looking add still routes fast", "add a travel section with flights and hotels", populated, Fast, RuleDefaultFast},
		{"multi-intent statement plus question routes fast", "Steve confirmed, do we have enough food?", populated, Fast, RuleDefaultFast},
		{"pure question routes analyst", "do we have enough food?", populated, Analyst, RuleQuestionOpener},
		{"interrogative opener without question mark", "how many guests said yes", populated, Analyst, RuleQuestionOpener},
		{"bare question mark", "the venue is booked?", populated, Analyst, RuleQuestionMark},
		{"sufficiency ask", "check whether the menu is sufficient for the headcount", populated, Analyst, RuleAnalysisAsk},
		{"explicit section keyword", "please add a section for travel", populated, Structural, RuleStructuralChange},
		{"restructure keyword", "reorganize the page by date", populated, Structural, RuleStructuralChange},
		{"comma enumeration", "invite steve, maria, john and the twins", populated, Structural, RuleCommaEnumeration},
		{"image attachment marker", "here's the flyer [image]", populated, Structural, RuleImageAttachment},
		{"positional weakness", "move the second card up", populated, Structural, RuleFastWeakness},
		{"spatial weakness", "put the menu above the guests", populated, Structural, RuleFastWeakness},
		{"negation weakness", "don't count maria's plus one", populated, Structural, RuleFastWeakness},
		{"already does not trip the ready word", "Steve already confirmed", populated, Fast, RuleDefaultFast},
		{"plain prop change", "set the budget to 400", populated, Fast, RuleDefaultFast},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.message, tc.snap)
			assert.Equal(t, tc.want, got.Tier)
			assert.Equal(t, tc.rule, got.Rule)
			assert.Greater(t, got.Confidence, 0.0)
		})
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	snap := populatedSnapshot()
	first := Classify("Steve confirmed, do we have enough food?", snap)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Classify("Steve confirmed, do we have enough food?", snap))
	}
}

func TestParse(t *testing.T) {
	for _, s := range []string{"fast", "structural", "analyst"} {
		tr, ok := Parse(s)
		require.True(t, ok)
		assert.Equal(t, Tier(s), tr)
	}
	_, ok := Parse("quantum")
	assert.False(t, ok)
}
