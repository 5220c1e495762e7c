package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/customs-lookup/internal/archive"
)

func archiveWith(t *testing.T, names ...string) *archive.Store {
	t.Helper()
	root := t.TempDir()
	s := archive.New(filepath.Join(root, "failed"), filepath.Join(root, "corpus"))
	require.NoError(t, os.MkdirAll(s.FailureDir, 0o755))
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(s.FailureDir, n), []byte(n), 0o644))
	}
	return s
}

func TestRelabelLoop(t *testing.T) {
	s := archiveWith(t, "a.png", "b.png", "c.png", "d.png")
	in := strings.NewReader(strings.Join([]string{
		"abc",   // too short, asked again
		"ab3de", // a.png
		"s",     // b.png
		"d",     // c.png
		"",      // d.png takes the model reading
	}, "\n"))
	var out bytes.Buffer

	res, err := relabelLoop(in, &out, s, func(path string) string {
		if filepath.Base(path) == "d.png" {
			return "k7m2p"
		}
		return ""
	})
	require.NoError(t, err)
	assert.Equal(t, relabelResult{Moved: 2, Deleted: 1, Skipped: 1}, res)
	assert.Contains(t, out.String(), `"abc" is not a 5-character label`)
	assert.Contains(t, out.String(), "enter = k7m2p")

	left, err := s.List()
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "b.png", left[0].Name)

	corpus, err := s.ListCorpus()
	require.NoError(t, err)
	var labels []string
	for _, img := range corpus {
		labels = append(labels, img.Label)
	}
	assert.ElementsMatch(t, []string{"ab3de", "k7m2p"}, labels)
}

func TestRelabelLoop_QuitAndEndOfInput(t *testing.T) {
	s := archiveWith(t, "a.png", "b.png")

	res, err := relabelLoop(strings.NewReader("q\n"), &bytes.Buffer{}, s, nil)
	require.NoError(t, err)
	assert.Equal(t, relabelResult{}, res)

	res, err = relabelLoop(strings.NewReader("ab3de\n"), &bytes.Buffer{}, s, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Moved)

	left, err := s.List()
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestRelabelLoop_EmptyArchive(t *testing.T) {
	var out bytes.Buffer
	res, err := relabelLoop(strings.NewReader(""), &out, archiveWith(t), nil)
	require.NoError(t, err)
	assert.Equal(t, relabelResult{}, res)
	assert.Contains(t, out.String(), "archive is empty")
}
