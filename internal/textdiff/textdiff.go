// Package textdiff computes edit scripts between text blobs and applies
// location-anchored, fuzzy patches. Engines hold only configuration and are
// safe for concurrent use.
package textdiff

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

var (
	ErrInvalidInput = errors.New("textdiff: invalid input")
	ErrPatchFailed  = errors.New("textdiff: patch did not apply cleanly")
)

type Operation string

const (
	OpEqual  Operation = "EQUAL"
	OpInsert Operation = "INSERT"
	OpDelete Operation = "DELETE"
)

// Diff is one segment of an edit script.
type Diff struct {
	Operation Operation `json:"operation"`
	Text      string    `json:"text"`
}

type Config struct {
	// Timeout bounds a single diff computation. Zero means unbounded.
	Timeout time.Duration
	// MatchThreshold is how loosely a hunk's context may match (0 exact, 1 anything).
	MatchThreshold float64
	// DeleteThreshold is how closely deleted text must match before it is removed.
	DeleteThreshold float64
	// MatchDistance is how far from its expected offset a hunk may land.
	MatchDistance int
}

func DefaultConfig() Config {
	return Config{
		Timeout:         time.Second,
		MatchThreshold:  0.5,
		DeleteThreshold: 0.5,
		MatchDistance:   1000,
	}
}

type Engine struct {
	cfg Config
}

func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// matcher returns a fresh diffmatchpatch instance per call.
func (e *Engine) matcher() *diffmatchpatch.DiffMatchPatch {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = e.cfg.Timeout
	dmp.MatchThreshold = e.cfg.MatchThreshold
	dmp.PatchDeleteThreshold = e.cfg.DeleteThreshold
	dmp.MatchDistance = e.cfg.MatchDistance
	return dmp
}

// Diff returns the semantically cleaned edit script turning base into compare.
func (e *Engine) Diff(base, compare string) ([]Diff, error) {
	if err := validate(base, compare); err != nil {
		return nil, err
	}
	dmp := e.matcher()
	raw := dmp.DiffCleanupSemantic(dmp.DiffMain(base, compare, true))

	out := make([]Diff, 0, len(raw))
	for _, d := range raw {
		if d.Text == "" {
			continue
		}
		out = append(out, Diff{Operation: operationOf(d.Type), Text: d.Text})
	}
	return out, nil
}

// MakePatch derives a patch from original to updated.
func (e *Engine) MakePatch(original, updated string) (Patch, error) {
	if err := validate(original, updated); err != nil {
		return Patch{}, err
	}
	return Patch{hunks: e.matcher().PatchMake(original, updated)}, nil
}

// ApplyPatch applies p to target, tolerating drift between target and the
// text the patch was made from. The bool reports whether every hunk applied.
func (e *Engine) ApplyPatch(p Patch, target string) (string, bool, error) {
	if err := validate(target); err != nil {
		return "", false, err
	}
	if p.Empty() {
		return target, true, nil
	}
	result, applied := e.matcher().PatchApply(p.hunks, target)
	for _, ok := range applied {
		if !ok {
			return result, false, nil
		}
	}
	return result, true, nil
}

// PatchDocument applies the patch from original to updated back onto
// original and fails with ErrPatchFailed unless every hunk applied.
func (e *Engine) PatchDocument(original, updated string) (string, error) {
	p, err := e.MakePatch(original, updated)
	if err != nil {
		return "", err
	}
	result, ok, err := e.ApplyPatch(p, original)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %d hunks", ErrPatchFailed, p.Len())
	}
	return result, nil
}

func validate(texts ...string) error {
	for _, t := range texts {
		if !utf8.ValidString(t) {
			return fmt.Errorf("%w: text is not valid UTF-8", ErrInvalidInput)
		}
	}
	return nil
}

func operationOf(op diffmatchpatch.Operation) Operation {
	switch op {
	case diffmatchpatch.DiffInsert:
		return OpInsert
	case diffmatchpatch.DiffDelete:
		return OpDelete
	default:
		return OpEqual
	}
}

// Reconstruct rebuilds one side of a diff: the compare text when
// compare is true, otherwise the base text.
func Reconstruct(diffs []Diff, compare bool) string {
	skip := OpInsert
	if compare {
		skip = OpDelete
	}
	var n int
	for _, d := range diffs {
		if d.Operation != skip {
			n += len(d.Text)
		}
	}
	buf := make([]byte, 0, n)
	for _, d := range diffs {
		if d.Operation != skip {
			buf = append(buf, d.Text...)
		}
	}
	return string(buf)
}
