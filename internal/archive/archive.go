// Package archive manages the two flat image directories of the self-training loop: the failure archive
// (CAPTCHAs the portal rejected or never answered) and the training corpus (images named by their label).
package archive

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jonathan/customs-lookup/internal/types"
)

const (
	failedPrefix  = "failed_"
	timeoutPrefix = "failed_timeout_"
)

// Failure describes one archived CAPTCHA.
type Failure struct {
	Name        string
	Declaration string
	Predicted   string
	Timestamp   time.Time
	TimedOut    bool
}

// Store is the pair of archive directories.
type Store struct {
	FailureDir string
	CorpusDir  string
	// Now stamps archived failures; defaults to time.Now.
	Now func() time.Time
}

// New returns a Store over the two directories. Directories are created on first write.
func New(failureDir, corpusDir string) *Store {
	return &Store{FailureDir: failureDir, CorpusDir: corpusDir, Now: time.Now}
}

func (s *Store) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// FailureName builds the archive file name for a failed attempt.
func FailureName(declaration, predicted string, at time.Time, timedOut bool) string {
	prefix := failedPrefix
	if timedOut {
		prefix = timeoutPrefix
	}
	return fmt.Sprintf("%s%s_%s_%d.png", prefix, declaration, predicted, at.Unix())
}

// ParseFailureName reverses FailureName.
func ParseFailureName(name string) (Failure, bool) {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	f := Failure{Name: name}
	switch {
	case strings.HasPrefix(stem, timeoutPrefix):
		f.TimedOut = true
		stem = strings.TrimPrefix(stem, timeoutPrefix)
	case strings.HasPrefix(stem, failedPrefix):
		stem = strings.TrimPrefix(stem, failedPrefix)
	default:
		return Failure{}, false
	}
	parts := strings.Split(stem, "_")
	if len(parts) != 3 {
		return Failure{}, false
	}
	ts, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Failure{}, false
	}
	f.Declaration = parts[0]
	f.Predicted = parts[1]
	f.Timestamp = time.Unix(ts, 0)
	return f, true
}

// SaveFailure writes a rejected or timed-out CAPTCHA into the failure archive. Only submitted answers are
// archived, so predicted must be set.
func (s *Store) SaveFailure(declaration, predicted string, data []byte, timedOut bool) (Failure, error) {
	if predicted == "" {
		return Failure{}, &Error{Message: "failure for " + declaration + " has no submitted answer"}
	}
	at := s.now()
	name := FailureName(declaration, predicted, at, timedOut)
	if err := os.MkdirAll(s.FailureDir, 0o755); err != nil {
		return Failure{}, &Error{Message: "failed to create failure archive", Cause: err}
	}
	if err := os.WriteFile(filepath.Join(s.FailureDir, name), data, 0o644); err != nil {
		return Failure{}, &Error{Message: "failed to write " + name, Cause: err}
	}
	f, _ := ParseFailureName(name)
	return f, nil
}

// IsImage reports whether name has an image extension the corpus accepts.
func IsImage(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg":
		return true
	default:
		return false
	}
}

// LabelFromName returns the part of the file stem before the first underscore.
func LabelFromName(name string) string {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if i := strings.IndexByte(stem, '_'); i >= 0 {
		return stem[:i]
	}
	return stem
}

// List returns the images waiting in the failure archive, sorted by name.
func (s *Store) List() ([]types.ArchiveImage, error) {
	return listImages(s.FailureDir, false)
}

// ListCorpus returns the labelled images of the training corpus, sorted by name.
func (s *Store) ListCorpus() ([]types.ArchiveImage, error) {
	return listImages(s.CorpusDir, true)
}

func listImages(dir string, labelled bool) ([]types.ArchiveImage, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []types.ArchiveImage{}, nil
	}
	if err != nil {
		return nil, &Error{Message: "failed to read " + dir, Cause: err}
	}
	images := make([]types.ArchiveImage, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !IsImage(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		img := types.ArchiveImage{Name: e.Name(), SizeBytes: info.Size()}
		if labelled {
			img.Label = LabelFromName(e.Name())
		} else if f, ok := ParseFailureName(e.Name()); ok {
			img.Label = f.Predicted
		}
		images = append(images, img)
	}
	sort.Slice(images, func(i, j int) bool { return images[i].Name < images[j].Name })
	return images, nil
}

// FailurePath resolves name inside the failure archive.
func (s *Store) FailurePath(name string) (string, error) {
	return resolve(s.FailureDir, name)
}

// CorpusPath resolves name inside the training corpus.
func (s *Store) CorpusPath(name string) (string, error) {
	return resolve(s.CorpusDir, name)
}

func resolve(dir, name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." || !IsImage(name) {
		return "", &NameError{Name: name}
	}
	return filepath.Join(dir, name), nil
}

// ReadFailure returns the bytes of an archived image.
func (s *Store) ReadFailure(name string) ([]byte, error) {
	path, err := s.FailurePath(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Message: "failed to read " + name, Cause: err}
	}
	return data, nil
}

// MoveToCorpus moves an archived image into the corpus as {label}{ext}, adding _1, _2, ... when the name is
// taken. It returns the corpus file name.
func (s *Store) MoveToCorpus(name, label string) (string, error) {
	src, err := s.FailurePath(name)
	if err != nil {
		return "", err
	}
	target, err := s.corpusTarget(label, strings.ToLower(filepath.Ext(name)))
	if err != nil {
		return "", err
	}
	if err := move(src, filepath.Join(s.CorpusDir, target)); err != nil {
		return "", &Error{Message: "failed to move " + name, Cause: err}
	}
	return target, nil
}

// AddToCorpus writes a freshly labelled image into the corpus under the same naming rule as MoveToCorpus.
func (s *Store) AddToCorpus(data []byte, label, ext string) (string, error) {
	if !IsImage("x" + ext) {
		return "", &Error{Message: fmt.Sprintf("extension %q is not an image", ext)}
	}
	target, err := s.corpusTarget(label, strings.ToLower(ext))
	if err != nil {
		return "", err
	}
	f, err := os.OpenFile(filepath.Join(s.CorpusDir, target), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", &Error{Message: "failed to create " + target, Cause: err}
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", &Error{Message: "failed to write " + target, Cause: err}
	}
	if err := f.Close(); err != nil {
		return "", &Error{Message: "failed to write " + target, Cause: err}
	}
	return target, nil
}

// corpusTarget picks the first free corpus name for label.
func (s *Store) corpusTarget(label, ext string) (string, error) {
	if label == "" || strings.ContainsAny(label, `_/\.`) {
		return "", &Error{Message: fmt.Sprintf("label %q cannot name a corpus file", label)}
	}
	if err := os.MkdirAll(s.CorpusDir, 0o755); err != nil {
		return "", &Error{Message: "failed to create training corpus", Cause: err}
	}

	target := label + ext
	for n := 1; ; n++ {
		_, err := os.Stat(filepath.Join(s.CorpusDir, target))
		if errors.Is(err, fs.ErrNotExist) {
			return target, nil
		}
		if err != nil {
			return "", &Error{Message: "failed to inspect training corpus", Cause: err}
		}
		target = fmt.Sprintf("%s_%d%s", label, n, ext)
	}
}

// move renames src to dst, copying when the directories live on different filesystems.
func move(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		in.Close()
		return err
	}
	_, copyErr := io.Copy(out, in)
	in.Close()
	if closeErr := out.Close(); copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		os.Remove(dst)
		return copyErr
	}
	return os.Remove(src)
}

// Remove deletes an archived image without promoting it.
func (s *Store) Remove(name string) error {
	path, err := s.FailurePath(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return &Error{Message: "failed to remove " + name, Cause: err}
	}
	return nil
}
