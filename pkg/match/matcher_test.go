package match

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Errors(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNoIncludes)

	_, err = New(Config{Includes: []string{"data/[*.shp"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidPattern)
	var pe *PatternError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "data/[*.shp", pe.Pattern)

	_, err = New(Config{Includes: []string{"**"}, Excludes: []string{"{"}})
	assert.ErrorIs(t, err, ErrInvalidPattern)
}

func TestMatcher_Match(t *testing.T) {
	m, err := New(Config{
		Includes: []string{"layers/**/*.shp", "layers/**/*.dbf", "styles/*.sld"},
		Excludes: []string{"**/tmp/**"},
	})
	require.NoError(t, err)

	tests := []struct {
		key  string
		want bool
	}{
		{"layers/roads/roads.shp", true},
		{"layers/roads.dbf", true},
		{"layers/roads/roads.prj", false},
		{"styles/roads.sld", true},
		{"styles/nested/roads.sld", false},
		{"layers/tmp/roads.shp", false},
		{"layers/.cache/roads.shp", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Match(tt.key))
		})
	}

	assert.Equal(t, []string{"layers/", "styles/"}, m.Prefixes())
	assert.False(t, m.HasEmptyPrefix())
}

func TestMatcher_IncludeHidden(t *testing.T) {
	m, err := New(Config{Includes: []string{"**"}, IncludeHidden: true})
	require.NoError(t, err)
	assert.True(t, m.Match(".meta/info.json"))
	assert.True(t, m.HasEmptyPrefix())
}

func TestMatcher_WindowsSeparators(t *testing.T) {
	m, err := New(Config{Includes: []string{`layers\**\*.shp`}})
	require.NoError(t, err)
	assert.True(t, m.Match("layers/a/b.shp"))
	assert.Equal(t, []string{"layers/"}, m.Prefixes())
}

func TestIsHidden(t *testing.T) {
	assert.False(t, IsHidden("path/to/file.txt"))
	assert.True(t, IsHidden(".hidden/file.txt"))
	assert.True(t, IsHidden("path/to/.gitignore"))
	assert.False(t, IsHidden("path/to/file.txt."))
	assert.False(t, IsHidden(""))
}
