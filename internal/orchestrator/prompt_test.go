package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/standforge/testutil/fixtures"
	"github.com/BaSui01/standforge/types"
)

func TestParseConcept(t *testing.T) {
	c, err := parseConcept(fixtures.ConceptJSON)
	require.NoError(t, err)
	assert.Equal(t, "Killer Queen (杀手皇后)", c.Name)
	assert.NotEmpty(t, c.Appearance)

	_, err = parseConcept(`{"name": "  ", "appearance": "red"}`)
	assert.Equal(t, types.ErrMalformedResponse, types.GetErrorCode(err))

	_, err = parseConcept("plain text")
	assert.Equal(t, types.ErrParse, types.GetErrorCode(err))
}

func TestParseProfile(t *testing.T) {
	concept := types.ConceptResult{Name: "Killer Queen (杀手皇后)", Appearance: "red"}

	p, err := parseProfile(fixtures.ProfileJSON, concept)
	require.NoError(t, err)
	assert.Equal(t, concept.Name, p.Name)
	assert.Equal(t, "近距离型", p.Type)
	assert.Equal(t, []string{"同一时间只能设置一个第一炸弹"}, p.Limitations)
	assert.NoError(t, p.Stats.Validate())
}

func TestParseProfile_LegacyFieldNames(t *testing.T) {
	text := `{"abilityName": "败者食尘", "ability": "炸弹", "shout": "しばっ",
		"stats": {"power": "a", "speed": "B", "range": "d", "durability": "B", "precision": "B", "potential": "∞"}}`

	p, err := parseProfile(text, types.ConceptResult{Name: "KQ"})
	require.NoError(t, err)
	assert.Equal(t, "KQ", p.Name)
	assert.Equal(t, "炸弹", p.Description)
	assert.Equal(t, "しばっ", p.BattleCry)
	assert.Equal(t, types.GradeInfinite, p.Stats.Potential)
}

func TestParseProfile_RejectsBadStats(t *testing.T) {
	tests := map[string]string{
		"missing axis":  `{"abilityName": "x", "description": "y", "stats": {"power": "A"}}`,
		"unknown grade": `{"abilityName": "x", "description": "y", "stats": {"power": "S", "speed": "B", "range": "D", "durability": "B", "precision": "B", "potential": "A"}}`,
		"no stats":      `{"abilityName": "x", "description": "y"}`,
		"no ability":    `{"description": "y", "stats": {}}`,
	}
	for name, text := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := parseProfile(text, types.ConceptResult{Name: "KQ"})
			assert.Equal(t, types.ErrMalformedResponse, types.GetErrorCode(err))
		})
	}
}

func TestPrompts(t *testing.T) {
	req := fixtures.KillerQueenRequest()
	req.UserName = ""

	cp := conceptPrompt(req)
	assert.Contains(t, cp.User, `"Unknown"`)
	assert.Contains(t, cp.User, "Killer Queen")
	assert.Contains(t, cp.User, "#D50000")
	assert.NotEmpty(t, cp.System)

	pp := profilePrompt(req, types.ConceptResult{Name: "KQ", Appearance: "red cat"})
	assert.Contains(t, pp.User, "red cat")
	assert.Contains(t, pp.User, "想要平静的生活")

	ip := imagePrompt("red cat")
	assert.Contains(t, ip, "red cat")
	assert.Contains(t, ip, "NEGATIVE PROMPT")
}
