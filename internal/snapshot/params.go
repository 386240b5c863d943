package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrInvalidParameter is returned when k, l or m fall outside their domain.
	ErrInvalidParameter = errors.New("invalid snapshot parameter")
	// ErrNoRoot is returned when the input has no element to downsample.
	ErrNoRoot = errors.New("document has no downsampling root")
)

// MergeMode is the structural merge parameter k. It is either a bounded
// ratio in [0, 1] or Linearize, which collapses every container into a
// single wrapper that is stripped on output.
type MergeMode struct {
	value     float64
	linearize bool
}

// Bounded returns a MergeMode with ratio v. Validate rejects values outside
// [0, 1].
func Bounded(v float64) MergeMode { return MergeMode{value: v} }

// Linearize returns the flattening MergeMode.
func Linearize() MergeMode { return MergeMode{linearize: true} }

// IsLinearize reports whether k flattens the tree.
func (k MergeMode) IsLinearize() bool { return k.linearize }

// Value returns the ratio, or +Inf for Linearize.
func (k MergeMode) Value() float64 {
	if k.linearize {
		return math.Inf(1)
	}
	return k.value
}

// factor is min(1, k) as used by the merge period.
func (k MergeMode) factor() float64 {
	if k.linearize {
		return 1
	}
	return math.Min(1, k.value)
}

func (k MergeMode) String() string {
	if k.linearize {
		return "linearize"
	}
	return strconv.FormatFloat(k.value, 'g', -1, 64)
}

// ParseMergeMode accepts a decimal number or one of "linearize", "inf",
// "infinity" (case-insensitive).
func ParseMergeMode(s string) (MergeMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "linearize", "inf", "+inf", "infinity":
		return Linearize(), nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return MergeMode{}, fmt.Errorf("%w: k=%q", ErrInvalidParameter, s)
	}
	if math.IsInf(v, 1) {
		return Linearize(), nil
	}
	return Bounded(v), nil
}

func (k MergeMode) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *MergeMode) UnmarshalText(b []byte) error {
	v, err := ParseMergeMode(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// MarshalJSON writes a number for bounded modes and "linearize" otherwise.
func (k MergeMode) MarshalJSON() ([]byte, error) {
	if k.linearize {
		return json.Marshal("linearize")
	}
	return json.Marshal(k.value)
}

func (k *MergeMode) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return k.UnmarshalText([]byte(s))
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("%w: k=%s", ErrInvalidParameter, string(b))
	}
	*k = Bounded(v)
	return nil
}

// Set and Type let a MergeMode back a command-line flag.
func (k *MergeMode) Set(s string) error { return k.UnmarshalText([]byte(s)) }

func (k *MergeMode) Type() string { return "mergeMode" }

// Parameters are the three downsampling knobs.
//
//	K: structural merge aggressiveness
//	L: text compression aggressiveness (share of sentences dropped)
//	M: attribute importance threshold
type Parameters struct {
	K MergeMode `json:"k" yaml:"k"`
	L float64   `json:"l" yaml:"l"`
	M float64   `json:"m" yaml:"m"`
}

// DefaultParameters returns k=0.4, l=0.5, m=0.6.
func DefaultParameters() Parameters {
	return Parameters{K: Bounded(0.4), L: 0.5, M: 0.6}
}

// Validate checks every parameter against its domain.
func (p Parameters) Validate() error {
	if !p.K.IsLinearize() {
		if err := checkUnit("k", p.K.value); err != nil {
			return err
		}
	}
	if err := checkUnit("l", p.L); err != nil {
		return err
	}
	return checkUnit("m", p.M)
}

func checkUnit(name string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("%w: %s=%v, expects value in [0, 1]", ErrInvalidParameter, name, v)
	}
	return nil
}

func (p Parameters) String() string {
	return fmt.Sprintf("k=%s l=%g m=%g", p.K, p.L, p.M)
}

// Options toggle optional engine behavior.
type Options struct {
	// Debug pretty-prints the serialized snapshot.
	Debug bool `json:"debug,omitempty" yaml:"debug"`
	// AssignUniqueIDs stamps data-uid on container and interactive elements
	// of the caller's tree before cloning.
	AssignUniqueIDs bool `json:"assignUniqueIDs,omitempty" yaml:"assignUniqueIDs"`
	// KeepUnknownElements keeps uncategorized elements instead of removing
	// them with their subtree.
	KeepUnknownElements bool `json:"keepUnknownElements,omitempty" yaml:"keepUnknownElements"`
}

// Meta describes the size of a snapshot. Sizes count characters.
type Meta struct {
	OriginalSize    int     `json:"originalSize"`
	SnapshotSize    int     `json:"snapshotSize"`
	SizeRatio       float64 `json:"sizeRatio"`
	EstimatedTokens int     `json:"estimatedTokens"`
}

// Result is one serialized snapshot.
type Result struct {
	HTML string `json:"html"`
	Meta Meta   `json:"meta"`
}
