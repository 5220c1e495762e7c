// Package solver turns a raw CAPTCHA bitmap into its five-character answer.
package solver

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonathan/customs-lookup/internal/classifier"
	"github.com/jonathan/customs-lookup/internal/codec"
	"github.com/jonathan/customs-lookup/internal/segment"
)

// CodecFile is the label codec filename inside a model directory.
const CodecFile = "label_codec.json"

var (
	// ErrSolverDisabled is returned by every Solve call on a context whose model failed to load.
	ErrSolverDisabled = errors.New("captcha solver is disabled")
	// ErrUnsolvable is returned when one particular image cannot be solved.
	ErrUnsolvable = errors.New("captcha could not be solved")
)

// Context holds the loaded model artifact pair. It is built once per process and shared by reference.
type Context struct {
	net   *classifier.Network
	codec *codec.Codec
	ready bool
	cause error
}

// ModelPaths returns the weights and codec paths inside dir.
func ModelPaths(dir string) (weights, codecPath string) {
	return filepath.Join(dir, classifier.ModelFile), filepath.Join(dir, CodecFile)
}

// Load reads the weights and codec from dir. It always returns a usable Context: when the pair is missing or
// inconsistent the Context is disabled and the returned error says why.
func Load(dir string) (*Context, error) {
	weightsPath, codecPath := ModelPaths(dir)
	if _, err := os.Stat(weightsPath); err != nil {
		return disabled(fmt.Errorf("model weights unavailable: %w", err))
	}
	if _, err := os.Stat(codecPath); err != nil {
		return disabled(fmt.Errorf("label codec unavailable: %w", err))
	}

	c, err := codec.Load(codecPath)
	if err != nil {
		return disabled(err)
	}
	net, err := classifier.Load(weightsPath)
	if err != nil {
		return disabled(err)
	}
	return New(net, c)
}

// New builds a ready Context from an in-memory pair.
func New(net *classifier.Network, c *codec.Codec) (*Context, error) {
	if net == nil || c == nil {
		return disabled(errors.New("model and codec are both required"))
	}
	if net.Classes() != c.Len() {
		return disabled(fmt.Errorf("%w: model has %d classes but codec has %d",
			classifier.ErrShapeMismatch, net.Classes(), c.Len()))
	}
	return &Context{net: net, codec: c, ready: true}, nil
}

// Disabled returns a Context that refuses to solve.
func Disabled(cause error) *Context {
	ctx, _ := disabled(cause)
	return ctx
}

func disabled(cause error) (*Context, error) {
	return &Context{cause: cause}, cause
}

// Ready reports whether the context can solve.
func (c *Context) Ready() bool {
	return c != nil && c.ready
}

// Cause returns the load failure of a disabled context.
func (c *Context) Cause() error {
	if c == nil {
		return ErrSolverDisabled
	}
	return c.cause
}

// Codec returns the loaded codec, or nil when disabled.
func (c *Context) Codec() *codec.Codec {
	if !c.Ready() {
		return nil
	}
	return c.codec
}

// Solve decodes data, segments it and classifies every glyph in slot order.
func (c *Context) Solve(data []byte, mode classifier.Mode) (string, error) {
	if !c.Ready() {
		return "", ErrSolverDisabled
	}
	img, err := segment.Decode(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsolvable, err)
	}
	glyphs := segment.Segment(img)
	if len(glyphs) != segment.GlyphCount {
		return "", fmt.Errorf("%w: segmentation found no %d-glyph layout", ErrUnsolvable, segment.GlyphCount)
	}

	var b strings.Builder
	for _, g := range glyphs {
		id, err := c.net.Predict(segment.Tensor(g), mode)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrUnsolvable, err)
		}
		b.WriteString(c.codec.Decode(id))
	}
	return b.String(), nil
}

// SolveFile reads an image from disk and solves it.
func (c *Context) SolveFile(path string, mode classifier.Mode) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return c.Solve(data, mode)
}
