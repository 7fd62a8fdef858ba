package usecase

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateManuscript(t *testing.T) {
	ws := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(ws, "good.md"),
		[]byte("# Title\n![local](images/a.png)\n"), 0o644))
	assert.NoError(t, validateManuscript(ws, "good.md"))

	require.NoError(t, os.WriteFile(filepath.Join(ws, "remote.md"),
		[]byte("![chart](https://example.com/chart.png)\n"), 0o644))
	err := validateManuscript(ws, "remote.md")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "external images")

	assert.Error(t, validateManuscript(ws, "missing.md"))
	assert.Error(t, validateManuscript(ws, "notes.txt"))
}

func TestValidateDeck(t *testing.T) {
	ws := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(ws, "deck.pptx"), []byte("content"), 0o644))
	assert.NoError(t, validateDeck(ws, "deck.pptx"))

	require.NoError(t, os.WriteFile(filepath.Join(ws, "empty.pptx"), nil, 0o644))
	assert.Error(t, validateDeck(ws, "empty.pptx"))

	assert.Error(t, validateDeck(ws, "missing.pptx"))
	assert.Error(t, validateDeck(ws, "deck.pdf"))
}

func TestValidateSlideDir(t *testing.T) {
	ws := t.TempDir()
	slides := filepath.Join(ws, "slides")
	require.NoError(t, os.MkdirAll(slides, 0o755))

	assert.Error(t, validateSlideDir(ws, "slides"))

	require.NoError(t, os.WriteFile(filepath.Join(slides, "slide_1.html"), []byte("<html>"), 0o644))
	assert.NoError(t, validateSlideDir(ws, "slides"))

	assert.Error(t, validateSlideDir(ws, "missing"))
}

func TestResolveOutcome(t *testing.T) {
	assert.Equal(t, "/abs/path.md", resolveOutcome("/ws", "/abs/path.md"))
	assert.Equal(t, filepath.Join("/ws", "rel.md"), resolveOutcome("/ws", "rel.md"))
	assert.Equal(t, "", resolveOutcome("/ws", "  "))
}
