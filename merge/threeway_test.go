package merge_test

import (
	"context"
	"testing"

	"github.com/gitkit-go/gitkit/merge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeLinesTakesTheirsWhenOursUnchanged(t *testing.T) {
	t.Parallel()

	base := []string{"a\n", "b\n", "c\n"}
	ours := []string{"a\n", "b\n", "c\n"}
	theirs := []string{"a\n", "B\n", "c\n"}

	result, err := merge.MergeLines(context.Background(), merge.StyleMerge, base, ours, theirs, "", "", "")
	require.NoError(t, err)
	assert.Equal(t, 0, result.Conflicts)
	assert.Equal(t, theirs, result.Lines)
}

func TestMergeLinesConflictingEditRendersMarkers(t *testing.T) {
	t.Parallel()

	base := []string{"original\n"}
	ours := []string{"original\n", "modified by a\n"}
	theirs := []string{"original\n", "modified by c\n"}

	result, err := merge.MergeLines(context.Background(), merge.StyleMerge, base, ours, theirs, "HEAD", "", "theirs")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Conflicts)
	assert.Equal(t, []string{
		"original\n",
		"<<<<<<< HEAD\n",
		"modified by a\n",
		"=======\n",
		"modified by c\n",
		">>>>>>> theirs\n",
	}, result.Lines)
}

func TestMergeLinesDiff3ShowsBase(t *testing.T) {
	t.Parallel()

	base := []string{"x\n"}
	ours := []string{"a\n"}
	theirs := []string{"b\n"}

	result, err := merge.MergeLines(context.Background(), merge.StyleDiff3, base, ours, theirs, "", "base", "")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Conflicts)
	assert.Contains(t, result.Lines, "||||||| base\n")
	assert.Contains(t, result.Lines, "x\n")
}

func TestMergeLinesBothSidesConvergeIsNotAConflict(t *testing.T) {
	t.Parallel()

	base := []string{"old\n"}
	ours := []string{"new\n"}
	theirs := []string{"new\n"}

	result, err := merge.MergeLines(context.Background(), merge.StyleMerge, base, ours, theirs, "", "", "")
	require.NoError(t, err)
	assert.Equal(t, 0, result.Conflicts)
	assert.Equal(t, []string{"new\n"}, result.Lines)
}

func TestParseConflictStyle(t *testing.T) {
	t.Parallel()

	assert.Equal(t, merge.StyleMerge, merge.ParseConflictStyle("unknown"))
	assert.Equal(t, merge.StyleDiff3, merge.ParseConflictStyle("diff3"))
	assert.Equal(t, merge.StyleZealousDiff3, merge.ParseConflictStyle("zdiff3"))
}
