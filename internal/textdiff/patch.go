package textdiff

import (
	"fmt"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Patch is an opaque, location-anchored edit script. The zero value is an
// empty patch that applies to any text unchanged.
type Patch struct {
	hunks []diffmatchpatch.Patch
}

func (p Patch) Empty() bool {
	return len(p.hunks) == 0
}

// Len reports the number of hunks.
func (p Patch) Len() int {
	return len(p.hunks)
}

// String renders the patch in the GNU-diff-like text form used by
// diff-match-patch.
func (p Patch) String() string {
	return diffmatchpatch.New().PatchToText(p.hunks)
}

// ParsePatch reads a patch previously rendered with String.
func ParsePatch(text string) (Patch, error) {
	if err := validate(text); err != nil {
		return Patch{}, err
	}
	hunks, err := diffmatchpatch.New().PatchFromText(text)
	if err != nil {
		return Patch{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return Patch{hunks: hunks}, nil
}
