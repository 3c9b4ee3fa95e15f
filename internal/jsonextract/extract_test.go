package jsonextract

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/standforge/types"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		text string
		want map[string]any
	}{
		{
			name: "plain object",
			text: `{"name":"Star Platinum"}`,
			want: map[string]any{"name": "Star Platinum"},
		},
		{
			name: "markdown fence",
			text: "```json\n{\"name\":\"The World\",\"appearance\":\"golden\"}\n```",
			want: map[string]any{"name": "The World", "appearance": "golden"},
		},
		{
			name: "trailing braces in prose",
			text: `{"a":1} and then {not json}`,
			want: map[string]any{"a": float64(1)},
		},
		{
			name: "braces inside string literal",
			text: `note: {"quote":"ORA {ORA} ORA"} {broken`,
			want: map[string]any{"quote": "ORA {ORA} ORA"},
		},
		{
			name: "escaped quote inside string",
			text: `{"quote":"he said \"}\" loudly"} trailing }`,
			want: map[string]any{"quote": `he said "}" loudly`},
		},
		{
			name: "first balanced span invalid",
			text: `{oops} {"ok":true}`,
			want: map[string]any{"ok": true},
		},
		{
			name: "nested object",
			text: `Here: {"stats":{"power":"A"}} done`,
			want: map[string]any{"stats": map[string]any{"power": "A"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtract_Failure(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"no braces", "I cannot help with that."},
		{"array only", `[1,2,3]`},
		{"unbalanced", `{"a": 1`},
		{"reversed", `} {`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Extract(tt.text)
			require.Error(t, err)

			e, ok := types.AsError(err)
			require.True(t, ok)
			assert.Equal(t, types.ErrParse, e.Code)
			assert.Equal(t, tt.text, e.Raw)
		})
	}
}

func TestExtractInto(t *testing.T) {
	var concept types.ConceptResult
	err := ExtractInto("Sure!\n{\"name\":\"Gold Experience\",\"appearance\":\"ladybugs\"}", &concept)
	require.NoError(t, err)
	assert.Equal(t, "Gold Experience", concept.Name)
	assert.Equal(t, "ladybugs", concept.Appearance)

	err = ExtractInto(`{"name": 12}`, &concept)
	assert.True(t, types.IsErrorCode(err, types.ErrParse))
}

func objectGen() *rapid.Generator[map[string]any] {
	return rapid.Custom(func(t *rapid.T) map[string]any {
		strs := rapid.MapOf(rapid.String(), rapid.String()).Draw(t, "strings")
		nums := rapid.MapOf(rapid.StringMatching(`n_[a-z]{1,8}`), rapid.IntRange(-1_000_000, 1_000_000)).Draw(t, "numbers")
		flag := rapid.Bool().Draw(t, "flag")

		out := make(map[string]any, len(strs)+len(nums)+1)
		for k, v := range strs {
			out[k] = v
		}
		for k, v := range nums {
			out[k] = float64(v)
		}
		out["flag"] = flag
		return out
	})
}

func TestExtract_TrailingProseProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		x := objectGen().Draw(t, "x")
		data, err := json.Marshal(x)
		require.NoError(t, err)

		got, err := Extract(string(data) + "\n\ntrailing prose {not json}")
		require.NoError(t, err)
		assert.Equal(t, x, got)
	})
}

func TestExtract_SurroundingNoiseProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		x := objectGen().Draw(t, "x")
		data, err := json.Marshal(x)
		require.NoError(t, err)

		got, err := Extract("noise before " + string(data) + " noise after")
		require.NoError(t, err)
		assert.Equal(t, x, got)
	})
}
