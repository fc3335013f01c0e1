package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiffLinesDetectsSingleLineChange(t *testing.T) {
	t.Parallel()

	a := []string{"one\n", "two\n", "three\n"}
	b := []string{"one\n", "TWO\n", "three\n"}

	assert.Equal(t, []Change{{AOffset: 1, Del: 1, BOffset: 1, Ins: 1}}, diffLines(a, b))
}

func TestDiffLinesPureInsertion(t *testing.T) {
	t.Parallel()

	a := []string{"one\n", "two\n"}
	b := []string{"one\n", "new\n", "two\n"}

	assert.Equal(t, []Change{{AOffset: 1, Del: 0, BOffset: 1, Ins: 1}}, diffLines(a, b))
}

func TestDiffLinesPureDeletion(t *testing.T) {
	t.Parallel()

	a := []string{"one\n", "two\n", "three\n"}
	b := []string{"one\n", "three\n"}

	assert.Equal(t, []Change{{AOffset: 1, Del: 1, BOffset: 1, Ins: 0}}, diffLines(a, b))
}

func TestDiffLinesIdenticalInputsProduceNoChanges(t *testing.T) {
	t.Parallel()

	a := []string{"same\n", "lines\n"}
	assert.Empty(t, diffLines(a, append([]string{}, a...)))
}

func TestDiffLinesBothEmpty(t *testing.T) {
	t.Parallel()

	assert.Empty(t, diffLines(nil, nil))
}

func TestDiffLinesAppendOnly(t *testing.T) {
	t.Parallel()

	a := []string{"only\n"}
	b := []string{"only\n", "extra\n"}

	assert.Equal(t, []Change{{AOffset: 1, Del: 0, BOffset: 1, Ins: 1}}, diffLines(a, b))
}
