package textdiff

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var textPairs = []struct {
	name string
	a, b string
}{
	{"both empty", "", ""},
	{"from empty", "", "Hello"},
	{"to empty", "Hello", ""},
	{"identical", "Hello", "Hello"},
	{"append", "Hello", "Hello world"},
	{"replace word", "The quick brown fox", "The quick red fox"},
	{"unicode", "héllo wörld 👋", "hello world 👋🏽"},
	{"multiline", "line one\nline two\nline three\n", "line one\nline 2\nline three\nline four\n"},
	{
		"long with scattered edits",
		strings.Repeat("Lorem ipsum dolor sit amet, consectetur adipiscing elit. ", 40),
		strings.Replace(strings.Repeat("Lorem ipsum dolor sit amet, consectetur adipiscing elit. ", 40), "dolor", "DOLOR", 7),
	},
}

func TestRoundTrip(t *testing.T) {
	e := New(DefaultConfig())
	for _, tc := range textPairs {
		t.Run(tc.name, func(t *testing.T) {
			p, err := e.MakePatch(tc.a, tc.b)
			require.NoError(t, err)

			got, ok, err := e.ApplyPatch(p, tc.a)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, tc.b, got)
		})
	}
}

func TestDiffReconstructsBothSides(t *testing.T) {
	e := New(DefaultConfig())
	for _, tc := range textPairs {
		t.Run(tc.name, func(t *testing.T) {
			diffs, err := e.Diff(tc.a, tc.b)
			require.NoError(t, err)
			assert.Equal(t, tc.b, Reconstruct(diffs, true))
			assert.Equal(t, tc.a, Reconstruct(diffs, false))
			for _, d := range diffs {
				assert.NotEmpty(t, d.Text)
			}
		})
	}
}

func TestDiffIsDeterministic(t *testing.T) {
	e := New(DefaultConfig())
	first, err := e.Diff("kitten sitting on the mat", "sitting kitten on a mat")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := e.Diff("kitten sitting on the mat", "sitting kitten on a mat")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestDiffSemanticCleanupGroupsFragments(t *testing.T) {
	diffs, err := New(DefaultConfig()).Diff("mouse", "sofas")
	require.NoError(t, err)

	require.Len(t, diffs, 2)
	ops := []Operation{diffs[0].Operation, diffs[1].Operation}
	assert.ElementsMatch(t, []Operation{OpDelete, OpInsert}, ops)
}

func TestDiffOfIdenticalTextIsOneEqual(t *testing.T) {
	diffs, err := New(DefaultConfig()).Diff("same", "same")
	require.NoError(t, err)
	assert.Equal(t, []Diff{{Operation: OpEqual, Text: "same"}}, diffs)

	diffs, err = New(DefaultConfig()).Diff("", "")
	require.NoError(t, err)
	assert.Empty(t, diffs)
}

func TestApplyPatchToleratesDrift(t *testing.T) {
	e := New(DefaultConfig())
	p, err := e.MakePatch(
		"The quick brown fox jumps over the lazy dog.",
		"The quick red fox jumps over the lazy dog.",
	)
	require.NoError(t, err)

	got, ok, err := e.ApplyPatch(p, "Preface. The quick brown fox jumps over the lazy dog!")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Preface. The quick red fox jumps over the lazy dog!", got)
}

func TestApplyPatchReportsFailedHunks(t *testing.T) {
	e := New(DefaultConfig())
	p, err := e.MakePatch("abcdefghijklmnopqrstuvwxyz", "abcdefghijklmXopqrstuvwxyz")
	require.NoError(t, err)
	require.False(t, p.Empty())

	got, ok, err := e.ApplyPatch(p, "0123456789")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "0123456789", got)
}

func TestEmptyPatchAppliesUnchanged(t *testing.T) {
	got, ok, err := New(DefaultConfig()).ApplyPatch(Patch{}, "anything")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "anything", got)
}

func TestPatchDocument(t *testing.T) {
	e := New(DefaultConfig())
	got, err := e.PatchDocument("Hello", "Hello world")
	require.NoError(t, err)
	assert.Equal(t, "Hello world", got)

	got, err = e.PatchDocument("Hello", "Hello")
	require.NoError(t, err)
	assert.Equal(t, "Hello", got)
}

func TestInvalidInput(t *testing.T) {
	e := New(DefaultConfig())
	bad := string([]byte{0xff, 0xfe})

	_, err := e.Diff(bad, "ok")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = e.MakePatch("ok", bad)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, _, err = e.ApplyPatch(Patch{}, bad)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = e.PatchDocument(bad, "ok")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = ParsePatch("@@ not a patch")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPatchTextForm(t *testing.T) {
	e := New(DefaultConfig())
	p, err := e.MakePatch("The quick brown fox", "The quick red fox")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p.String(), "@@ "))

	parsed, err := ParsePatch(p.String())
	require.NoError(t, err)
	assert.Equal(t, p.Len(), parsed.Len())

	got, ok, err := e.ApplyPatch(parsed, "The quick brown fox")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "The quick red fox", got)
}

func TestEngineIsSafeForConcurrentUse(t *testing.T) {
	e := New(DefaultConfig())
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := e.PatchDocument("shared base text", "shared changed text")
			assert.NoError(t, err)
			assert.Equal(t, "shared changed text", got)
		}()
	}
	wg.Wait()
}
