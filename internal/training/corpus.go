package training

import (
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"

	"github.com/jonathan/customs-lookup/internal/archive"
	"github.com/jonathan/customs-lookup/internal/segment"
)

// LabelledGlyph is one segmented character and the symbol it shows.
type LabelledGlyph struct {
	X     []float64
	Label string
}

// CorpusStats counts what a corpus scan used and skipped.
type CorpusStats struct {
	Images  int
	Used    int
	Skipped []string
}

// LoadCorpus segments every image in dir whose file label has the given length and pairs each glyph with
// the matching character of the label. Images are read in name order.
func LoadCorpus(dir string, length int) ([]LabelledGlyph, CorpusStats, error) {
	var stats CorpusStats
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, stats, &Error{Message: "failed to read corpus " + dir, Cause: err}
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && archive.IsImage(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var glyphs []LabelledGlyph
	for _, name := range names {
		stats.Images++
		label := []rune(archive.LabelFromName(name))
		if len(label) != length {
			stats.Skipped = append(stats.Skipped, name)
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, stats, &Error{Message: "failed to read " + name, Cause: err}
		}
		img, err := segment.Decode(data)
		if err != nil {
			stats.Skipped = append(stats.Skipped, name)
			continue
		}
		parts := segment.Segment(img)
		if len(parts) != length {
			stats.Skipped = append(stats.Skipped, name)
			continue
		}
		for i, g := range parts {
			glyphs = append(glyphs, LabelledGlyph{X: segment.Tensor(g), Label: string(label[i])})
		}
		stats.Used++
	}
	return glyphs, stats, nil
}

// StratifiedSplit partitions sample indices into train and holdout sets, holding out the given fraction of
// every class (rounded, at least one when the class has two or more samples, never the whole class).
// The split depends only on labels, fraction and seed.
func StratifiedSplit(labels []int, fraction float64, seed int64) (train, holdout []int) {
	byClass := make(map[int][]int)
	var classes []int
	for i, l := range labels {
		if _, ok := byClass[l]; !ok {
			classes = append(classes, l)
		}
		byClass[l] = append(byClass[l], i)
	}
	sort.Ints(classes)

	rng := rand.New(rand.NewSource(seed))
	for _, c := range classes {
		idx := byClass[c]
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		n := int(math.Round(float64(len(idx)) * fraction))
		if n == 0 && len(idx) >= 2 && fraction > 0 {
			n = 1
		}
		if n >= len(idx) {
			n = len(idx) - 1
		}
		holdout = append(holdout, idx[:n]...)
		train = append(train, idx[n:]...)
	}
	sort.Ints(train)
	sort.Ints(holdout)
	return train, holdout
}
