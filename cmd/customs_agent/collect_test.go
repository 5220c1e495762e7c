package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/customs-lookup/internal/portal"
)

type stubChallenges struct {
	served    int
	refreshes int
}

func (s *stubChallenges) Current(context.Context) ([]byte, error) {
	s.served++
	return []byte(fmt.Sprintf("captcha-%d", s.served)), nil
}

func (s *stubChallenges) Refresh(context.Context) error {
	s.refreshes++
	return nil
}

func TestCollectLoop(t *testing.T) {
	store := archiveWith(t)
	src := &stubChallenges{}
	preview := filepath.Join(t.TempDir(), "preview.png")
	in := strings.NewReader("ab3de\n\nbad\nk7m2p\n")
	var out bytes.Buffer

	n, err := collectLoop(context.Background(), in, &out, src, store, nil, 2, preview)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 4, src.served)
	assert.Equal(t, 4, src.refreshes)
	assert.Contains(t, out.String(), `"bad" is not a 5-character label`)

	data, err := os.ReadFile(filepath.Join(store.CorpusDir, "k7m2p.png"))
	require.NoError(t, err)
	assert.Equal(t, "captcha-4", string(data))

	last, err := os.ReadFile(preview)
	require.NoError(t, err)
	assert.Equal(t, "captcha-4", string(last))
}

func TestCollectLoop_QuitShowsHint(t *testing.T) {
	var out bytes.Buffer
	n, err := collectLoop(context.Background(), strings.NewReader("q\n"), &out, &stubChallenges{}, archiveWith(t),
		func([]byte) string { return "zzzzz" }, 10, "")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Contains(t, out.String(), "model reads zzzzz")
}

func TestCollectLoop_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := collectLoop(ctx, strings.NewReader(""), &bytes.Buffer{}, &stubChallenges{}, archiveWith(t), nil, 1, "")
	assert.ErrorIs(t, err, context.Canceled)
}

type attrPage struct {
	portal.Page
	src     string
	clicked []string
}

func (p *attrPage) ReadAttribute(_ context.Context, _, _ string) (string, error) { return p.src, nil }

func (p *attrPage) Click(_ context.Context, selector string) error {
	p.clicked = append(p.clicked, selector)
	return nil
}

func TestPortalChallenges(t *testing.T) {
	page := &attrPage{src: portal.CaptchaSourcePrefix + "aGVsbG8="}
	src := &portalChallenges{page: page, sel: portal.DefaultSelectors()}

	data, err := src.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, src.Refresh(context.Background()))
	assert.Equal(t, []string{portal.DefaultSelectors().RefreshButton}, page.clicked)
}
