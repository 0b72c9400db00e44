package worker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitAppendLines(t *testing.T) {
	var partial strings.Builder
	records := splitAppend(&partial, "one\ntwo\nthr")
	assert.Equal(t, []string{"one", "two"}, records)
	assert.Equal(t, "thr", partial.String())

	records = splitAppend(&partial, "ee\n")
	assert.Equal(t, []string{"three"}, records)
	assert.Zero(t, partial.Len())
}

func TestSplitAppendCarriageReturns(t *testing.T) {
	var partial strings.Builder
	records := splitAppend(&partial, "progress 10%\rprogress 50%\rprogress 100%\n")
	assert.Equal(t, []string{"progress 10%", "progress 50%", "progress 100%"}, records)
	assert.Zero(t, partial.Len())
}

func TestSplitAppendCRLF(t *testing.T) {
	var partial strings.Builder
	records := splitAppend(&partial, "one\r\ntwo\r\n")
	assert.Equal(t, []string{"one", "two"}, records)
}

func TestSplitAppendInvalidUTF8(t *testing.T) {
	var partial strings.Builder
	records := splitAppend(&partial, "ok \xff\xfe bytes\n")
	assert.Equal(t, []string{"ok  bytes"}, records)
}
