package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/mapnimbus/pkg/provider/file"
	"github.com/3leaps/mapnimbus/pkg/storage"
)

func newFileStore(t *testing.T) *storage.Store {
	t.Helper()
	backend, err := file.New(file.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	st, err := storage.New(backend, storage.Options{})
	require.NoError(t, err)
	return st
}

func TestTitleFilter(t *testing.T) {
	tests := []struct {
		name     string
		includes []string
		excludes []string
		title    string
		want     bool
	}{
		{"no patterns", nil, nil, "anything", true},
		{"include star", []string{"road*"}, nil, "roads", true},
		{"include miss", []string{"road*"}, nil, "rivers", false},
		{"star stops at slash", []string{"*"}, nil, "a/b", false},
		{"doublestar crosses slash", []string{"**"}, nil, "a/b", true},
		{"exclude wins", []string{"**"}, []string{"tmp-*"}, "tmp-1", false},
		{"exclude only", nil, []string{"*draft*"}, "final", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewTitleFilter(tt.includes, tt.excludes)
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Match(tt.title))
		})
	}
}

func TestTitleFilter_Nil(t *testing.T) {
	var f *TitleFilter
	assert.True(t, f.Match("x"))
}

func TestTitleFilter_InvalidPattern(t *testing.T) {
	_, err := NewTitleFilter([]string{"[unclosed"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidPattern)

	var pe *PatternError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "[unclosed", pe.Pattern)
}
