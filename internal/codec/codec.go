// Package codec maps character labels to the dense class ids of the classifier's output layer.
package codec

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/jonathan/customs-lookup/internal/schemas"
)

const (
	// Unknown is returned by Encode for a label the codec has never seen.
	Unknown = -1
	// Placeholder is returned by Decode for an id outside the class space.
	Placeholder = "?"

	fileVersion = 1
)

// Codec is an immutable, sorted set of class labels.
// Ids are positions in the sorted set, so the same label set always yields the same ids.
type Codec struct {
	classes []string
	index   map[string]int
}

// New builds a codec from every distinct label in labels.
func New(labels []string) *Codec {
	seen := make(map[string]struct{}, len(labels))
	classes := make([]string, 0, len(labels))
	for _, l := range labels {
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		classes = append(classes, l)
	}
	sort.Strings(classes)

	index := make(map[string]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}
	return &Codec{classes: classes, index: index}
}

// Extend returns a codec holding the union of c and labels. Classes are never dropped.
// A nil receiver behaves as an empty codec.
func (c *Codec) Extend(labels []string) *Codec {
	var all []string
	if c != nil {
		all = append(all, c.classes...)
	}
	all = append(all, labels...)
	return New(all)
}

// Len returns the number of classes.
func (c *Codec) Len() int {
	return len(c.classes)
}

// Classes returns a copy of the sorted labels.
func (c *Codec) Classes() []string {
	out := make([]string, len(c.classes))
	copy(out, c.classes)
	return out
}

// Encode returns the class id of label, or Unknown.
func (c *Codec) Encode(label string) int {
	if id, ok := c.index[label]; ok {
		return id
	}
	return Unknown
}

// Decode returns the label of id, or Placeholder.
func (c *Codec) Decode(id int) string {
	if id < 0 || id >= len(c.classes) {
		return Placeholder
	}
	return c.classes[id]
}

// DecodeAll concatenates the labels of ids in order.
func (c *Codec) DecodeAll(ids []int) string {
	var sb strings.Builder
	for _, id := range ids {
		sb.WriteString(c.Decode(id))
	}
	return sb.String()
}

// Equal reports whether both codecs assign the same ids.
func (c *Codec) Equal(other *Codec) bool {
	if c == nil || other == nil {
		return c == other
	}
	if len(c.classes) != len(other.classes) {
		return false
	}
	for i := range c.classes {
		if c.classes[i] != other.classes[i] {
			return false
		}
	}
	return true
}

type fileFormat struct {
	Version int      `json:"version"`
	Classes []string `json:"classes"`
}

// MarshalJSON implements json.Marshaler.
func (c *Codec) MarshalJSON() ([]byte, error) {
	return json.Marshal(fileFormat{Version: fileVersion, Classes: c.Classes()})
}

// UnmarshalJSON implements json.Unmarshaler. The document is validated against the codec schema first.
func (c *Codec) UnmarshalJSON(data []byte) error {
	if err := schemas.ValidateCodec(data); err != nil {
		return &SchemaError{Message: "invalid label codec", Cause: err}
	}
	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse label codec: %w", err)
	}
	loaded := New(f.Classes)
	if loaded.Len() != len(f.Classes) {
		return &SchemaError{Message: "label codec classes are not distinct"}
	}
	*c = *loaded
	return nil
}

// Load reads a codec file.
func Load(path string) (*Codec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read label codec %s: %w", path, err)
	}
	var c Codec
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Save writes the codec to path.
func (c *Codec) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal label codec: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write label codec %s: %w", path, err)
	}
	return nil
}

// SchemaError reports a codec file that does not match the expected format.
type SchemaError struct {
	Message string
	Cause   error
}

func (e *SchemaError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("codec schema error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("codec schema error: %s", e.Message)
}

func (e *SchemaError) Unwrap() error {
	return e.Cause
}
