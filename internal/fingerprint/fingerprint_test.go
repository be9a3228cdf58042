package fingerprint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/techdev-loop/leaderboard-sub002/internal/browser/mocks"
)

const podiumTableHTML = `<html><body>
<div class="tabs"><button class="tab">Stake</button><button class="tab">Roobet</button></div>
<div class="podium">
  <div class="card first">amy</div><div class="card second">bob</div><div class="card third">cat</div>
</div>
<table class="leaderboard-table">
  <thead><tr><th>#</th><th>User</th></tr></thead>
  <tbody><tr><td>4</td><td>dan</td></tr><tr><td>5</td><td>eve</td></tr></tbody>
</table>
</body></html>`

const listHTML = `<html><body><ul class="leaderboard-list">
<li>amy</li><li>bob</li><li>cat</li><li>dan</li>
</ul></body></html>`

var fixed = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func testGenerator() *Generator {
	return &Generator{Bounds: DefaultBounds, Now: func() time.Time { return fixed }}
}

func switcherCandidates() []Candidate {
	return []Candidate{
		{Tag: "button", Text: "Stake", Width: 120, Height: 40},
		{Tag: "button", Text: "", Markup: `<button><img alt="roobet logo"></button>`, Width: 90, Height: 40},
		{Tag: "div", Text: "Stake Roobet Gamdom leaderboards", Width: 1200, Height: 800}, // container
		{Tag: "a", Text: "Gamdom", Width: 5, Height: 5},                                   // too small
	}
}

func TestFromParts_PodiumTable(t *testing.T) {
	fp, err := testGenerator().FromParts(switcherCandidates(), podiumTableHTML, []string{"Stake", "roobet", "gamdom"})
	require.NoError(t, err)

	assert.Equal(t, []string{"roobet", "stake"}, fp.SwitcherNames)
	assert.Equal(t, 2, fp.SwitcherCount)
	assert.True(t, fp.HasPodium)
	assert.True(t, fp.HasTable)
	assert.Equal(t, LayoutPodiumTable, fp.LayoutType)
	assert.Equal(t, 2, fp.EntryCount)
	assert.Len(t, fp.Hash, hashLength)
	assert.Equal(t, fixed, fp.CapturedAt)
	assert.LessOrEqual(t, len(fp.Elements), maxElements)
}

func TestFromParts_CountsMatchingClickables(t *testing.T) {
	candidates := []Candidate{
		{Tag: "button", Text: "Stake", Width: 120, Height: 40},
		{Tag: "a", Markup: `<a><img alt="stake logo"></a>`, Width: 60, Height: 40},
		{Tag: "button", Text: "Roobet / Gamdom", Width: 160, Height: 40},
		{Tag: "button", Text: "Rules", Width: 80, Height: 40},
	}
	fp, err := testGenerator().FromParts(candidates, listHTML, []string{"stake", "roobet", "gamdom"})
	require.NoError(t, err)

	assert.Equal(t, []string{"gamdom", "roobet", "stake"}, fp.SwitcherNames)
	assert.Equal(t, 3, fp.SwitcherCount)
}

func TestFromParts_Layouts(t *testing.T) {
	g := testGenerator()

	list, err := g.FromParts(nil, listHTML, nil)
	require.NoError(t, err)
	assert.Equal(t, LayoutList, list.LayoutType)
	assert.Equal(t, 4, list.EntryCount)

	unknown, err := g.FromParts(nil, `<html><body><p>coming soon</p></body></html>`, nil)
	require.NoError(t, err)
	assert.Equal(t, LayoutUnknown, unknown.LayoutType)

	tableOnly, err := g.FromParts(nil, `<table class="leaderboard"><tr><td>1</td></tr></table>`, nil)
	require.NoError(t, err)
	assert.Equal(t, LayoutTableOnly, tableOnly.LayoutType)
}

func TestHashIsDeterministic(t *testing.T) {
	g := testGenerator()
	a, err := g.FromParts(switcherCandidates(), podiumTableHTML, []string{"stake", "roobet"})
	require.NoError(t, err)
	b, err := g.FromParts(switcherCandidates(), podiumTableHTML, []string{"roobet", "stake"})
	require.NoError(t, err)
	assert.Equal(t, a.Hash, b.Hash)

	c, err := g.FromParts(switcherCandidates()[:1], podiumTableHTML, []string{"stake", "roobet"})
	require.NoError(t, err)
	assert.NotEqual(t, a.Hash, c.Hash)
}

func TestGenerate(t *testing.T) {
	page := mocks.NewMockPage(t)
	page.On("Evaluate", mock.Anything, ClickablesScript, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			out := args.Get(3).(*[]Candidate)
			*out = switcherCandidates()
		}).Return(nil)
	page.On("HTML", mock.Anything).Return(podiumTableHTML, nil)

	fp, err := testGenerator().Generate(context.Background(), page, []string{"stake", "roobet"})
	require.NoError(t, err)
	assert.Equal(t, 2, fp.SwitcherCount)
	assert.Equal(t, LayoutPodiumTable, fp.LayoutType)
}

func TestGenerateErrors(t *testing.T) {
	page := mocks.NewMockPage(t)
	page.On("Evaluate", mock.Anything, ClickablesScript, mock.Anything, mock.Anything).Return(errors.New("detached"))

	_, err := testGenerator().Generate(context.Background(), page, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fingerprint: inspect clickables")
}

func TestRecordRoundTrip(t *testing.T) {
	fp, err := testGenerator().FromParts(switcherCandidates(), podiumTableHTML, []string{"stake", "roobet"})
	require.NoError(t, err)

	back := FromRecord(fp.Record())
	assert.Equal(t, fp.Hash, back.Hash)
	assert.Equal(t, fp.SwitcherNames, back.SwitcherNames)
	assert.Equal(t, fp.LayoutType, back.LayoutType)
	assert.False(t, Compare(fp, back).Changed)

	assert.Nil(t, (*Fingerprint)(nil).Record())
	assert.Nil(t, FromRecord(nil))
}
