package questions

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ids(list []Question) []string {
	out := make([]string, len(list))
	for i, q := range list {
		out[i] = q.ID
	}
	return out
}

func TestRankAskedExample(t *testing.T) {
	list := []Question{
		{ID: "Q1", Likes: 3, CreatedAt: ts(10), State: StateAsked},
		{ID: "Q2", Likes: 3, CreatedAt: ts(5), State: StateAsked},
		{ID: "Q3", Likes: 1, CreatedAt: ts(20), State: StateAsked},
	}
	assert.Equal(t, []string{"Q2", "Q1", "Q3"}, ids(Rank(list, StateAsked)))
	assert.Equal(t, "Q1", list[0].ID, "input must not be reordered")
}

func TestRankAnsweredAndPrivateNewestFirst(t *testing.T) {
	list := []Question{
		{ID: "a", CreatedAt: ts(10), State: StateAnswered},
		{ID: "b", CreatedAt: ts(30), State: StateAnswered},
		{ID: "c", State: StateAnswered},
		{ID: "d", CreatedAt: ts(20), State: StatePrivate},
		{ID: "e", CreatedAt: ts(40), State: StatePrivate},
	}
	assert.Equal(t, []string{"b", "a", "c"}, ids(Rank(list, StateAnswered)))
	assert.Equal(t, []string{"e", "d"}, ids(Rank(list, StatePrivate)))
}

func TestRankMissingFieldsDefaultToZero(t *testing.T) {
	list := []Question{
		{ID: "late", Likes: 0, CreatedAt: ts(5)},
		{ID: "nostamp"},
		{ID: "liked", Likes: 1},
	}
	assert.Equal(t, []string{"liked", "nostamp", "late"}, ids(Rank(list, StateAsked)))
}

func TestRankTabsPartitionQuestions(t *testing.T) {
	list := []Question{
		{ID: "1"}, {ID: "2", State: StateAsked}, {ID: "3", State: StateAnswered},
		{ID: "4", State: StatePrivate}, {ID: "5", State: "archived"},
	}
	seen := map[string]int{}
	for _, tab := range []Tab{StateAsked, StateAnswered, StatePrivate} {
		for _, q := range Rank(list, tab) {
			seen[q.ID]++
			assert.Equal(t, tab, q.EffectiveState())
		}
	}
	assert.Equal(t, map[string]int{"1": 1, "2": 1, "3": 1, "4": 1}, seen)
}

func TestRankAskedSortLaw(t *testing.T) {
	var list []Question
	for i := 0; i < 40; i++ {
		list = append(list, Question{
			ID:        string(rune('A' + i%26)) + string(rune('a'+i/26)),
			Likes:     int64((i * 7) % 5),
			CreatedAt: ts(int64((i * 13) % 11)),
		})
	}
	ranked := Rank(list, StateAsked)
	for i := 0; i+1 < len(ranked); i++ {
		a, b := ranked[i], ranked[i+1]
		ok := a.Likes > b.Likes || (a.Likes == b.Likes && a.CreatedAt.Seconds <= b.CreatedAt.Seconds)
		assert.True(t, ok, "%+v before %+v", a, b)
	}
}

func TestParseTab(t *testing.T) {
	tab, err := ParseTab("")
	assert.NoError(t, err)
	assert.Equal(t, StateAsked, tab)
	tab, err = ParseTab(" Answered ")
	assert.NoError(t, err)
	assert.Equal(t, StateAnswered, tab)
	_, err = ParseTab("archived")
	assert.Error(t, err)
}
