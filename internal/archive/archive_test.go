package archive

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	s := New(filepath.Join(root, "captcha_failed"), filepath.Join(root, "captcha_result"))
	s.Now = func() time.Time { return time.Unix(1700000000, 0) }
	return s
}

func TestFailureName(t *testing.T) {
	at := time.Unix(1700000000, 0)
	assert.Equal(t, "failed_123_ab12c_1700000000.png", FailureName("123", "ab12c", at, false))
	assert.Equal(t, "failed_timeout_123_ab12c_1700000000.png", FailureName("123", "ab12c", at, true))
}

func TestParseFailureName(t *testing.T) {
	f, ok := ParseFailureName("failed_timeout_305_xy9zq_1700000001.png")
	require.True(t, ok)
	assert.True(t, f.TimedOut)
	assert.Equal(t, "305", f.Declaration)
	assert.Equal(t, "xy9zq", f.Predicted)
	assert.Equal(t, int64(1700000001), f.Timestamp.Unix())

	_, ok = ParseFailureName("abcde.png")
	assert.False(t, ok)
	_, ok = ParseFailureName("failed_1_2.png")
	assert.False(t, ok)
	_, ok = ParseFailureName("failed_1_ab_notanumber.png")
	assert.False(t, ok)
}

func TestLabelFromName(t *testing.T) {
	assert.Equal(t, "ab12c", LabelFromName("ab12c.png"))
	assert.Equal(t, "ab12c", LabelFromName("ab12c_3.jpg"))
	assert.Equal(t, "", LabelFromName("_x.png"))
}

func TestSaveFailureAndList(t *testing.T) {
	s := newStore(t)

	f, err := s.SaveFailure("999", "qwert", []byte("img"), false)
	require.NoError(t, err)
	assert.Equal(t, "failed_999_qwert_1700000000.png", f.Name)
	assert.Equal(t, "qwert", f.Predicted)

	f, err = s.SaveFailure("998", "zx9cv", []byte("img2"), true)
	require.NoError(t, err)
	assert.True(t, f.TimedOut)
	assert.Equal(t, "zx9cv", f.Predicted)

	_, err = s.SaveFailure("997", "", []byte("img3"), false)
	var archErr *Error
	require.ErrorAs(t, err, &archErr)

	require.NoError(t, os.WriteFile(filepath.Join(s.FailureDir, "notes.txt"), []byte("x"), 0o644))

	images, err := s.List()
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Equal(t, "failed_999_qwert_1700000000.png", images[0].Name)
	assert.Equal(t, "qwert", images[0].Label)
	assert.Equal(t, int64(3), images[0].SizeBytes)
	assert.Equal(t, "failed_timeout_998_zx9cv_1700000000.png", images[1].Name)
	assert.Equal(t, "zx9cv", images[1].Label)
}

func TestList_MissingDirectoryIsEmpty(t *testing.T) {
	s := newStore(t)
	images, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, images)
}

func TestMoveToCorpus_SuffixesCollisions(t *testing.T) {
	s := newStore(t)
	var names []string
	for _, decl := range []string{"1", "2", "3"} {
		f, err := s.SaveFailure(decl, "zzzzz", []byte(decl), false)
		require.NoError(t, err)
		names = append(names, f.Name)
	}

	var moved []string
	for _, n := range names {
		target, err := s.MoveToCorpus(n, "abcde")
		require.NoError(t, err)
		moved = append(moved, target)
	}
	assert.Equal(t, []string{"abcde.png", "abcde_1.png", "abcde_2.png"}, moved)

	remaining, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, remaining)

	corpus, err := s.ListCorpus()
	require.NoError(t, err)
	require.Len(t, corpus, 3)
	for _, img := range corpus {
		assert.Equal(t, "abcde", img.Label)
	}
	data, err := os.ReadFile(filepath.Join(s.CorpusDir, "abcde_2.png"))
	require.NoError(t, err)
	assert.Equal(t, "3", string(data))
}

func TestMoveToCorpus_RejectsBadInput(t *testing.T) {
	s := newStore(t)
	f, err := s.SaveFailure("1", "aaaaa", []byte("x"), false)
	require.NoError(t, err)

	_, err = s.MoveToCorpus("../escape.png", "abcde")
	var nameErr *NameError
	assert.True(t, errors.As(err, &nameErr))

	_, err = s.MoveToCorpus(f.Name, "a_b")
	var archErr *Error
	assert.True(t, errors.As(err, &archErr))

	_, err = s.MoveToCorpus("failed_2_x_1.png", "abcde")
	assert.True(t, errors.As(err, &archErr))
}

func TestReadFailureAndRemove(t *testing.T) {
	s := newStore(t)
	f, err := s.SaveFailure("7", "abcde", []byte("payload"), false)
	require.NoError(t, err)

	data, err := s.ReadFailure(f.Name)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	require.NoError(t, s.Remove(f.Name))
	_, err = s.ReadFailure(f.Name)
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	s := newStore(t)
	for _, bad := range []string{"", ".", "..", "a/b.png", "x.txt"} {
		_, err := s.FailurePath(bad)
		assert.Error(t, err, bad)
	}
	p, err := s.CorpusPath("abcde.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.CorpusDir, "abcde.png"), p)
}

func TestAddToCorpus(t *testing.T) {
	s := newStore(t)

	first, err := s.AddToCorpus([]byte("one"), "k7m2p", ".PNG")
	require.NoError(t, err)
	second, err := s.AddToCorpus([]byte("two"), "k7m2p", ".png")
	require.NoError(t, err)
	assert.Equal(t, "k7m2p.png", first)
	assert.Equal(t, "k7m2p_1.png", second)

	data, err := os.ReadFile(filepath.Join(s.CorpusDir, second))
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	_, err = s.AddToCorpus([]byte("x"), "k7m2p", ".gif")
	assert.Error(t, err)
	_, err = s.AddToCorpus([]byte("x"), "", ".png")
	assert.Error(t, err)
}
