package arch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandMainline(t *testing.T) {
	got, err := Expand([]string{"mainline"})
	require.NoError(t, err)
	assert.Equal(t, All, got)
}

func TestExpandDeduplicatesAndSorts(t *testing.T) {
	got, err := Expand([]string{"riscv64", "amd64", "riscv64", "arm64"})
	require.NoError(t, err)
	assert.Equal(t, []string{"amd64", "arm64", "riscv64"}, got)
}

func TestExpandMainlinePlusExplicit(t *testing.T) {
	got, err := Expand([]string{"amd64", "mainline"})
	require.NoError(t, err)
	assert.Equal(t, All, got)
}

func TestExpandRejectsUnknown(t *testing.T) {
	_, err := Expand([]string{"sparc64"})
	assert.Error(t, err)
}

func TestExpandRejectsEmpty(t *testing.T) {
	_, err := Expand([]string{"", "  "})
	assert.Error(t, err)
}

func TestExpandNoarchAlone(t *testing.T) {
	got, err := Expand([]string{"noarch"})
	require.NoError(t, err)
	assert.Equal(t, []string{"noarch"}, got)
}

func TestExpandNoarchMixedRejected(t *testing.T) {
	_, err := Expand([]string{"noarch", "amd64"})
	assert.Error(t, err)
}

func TestParse(t *testing.T) {
	got, err := Parse("arm64,amd64")
	require.NoError(t, err)
	assert.Equal(t, []string{"amd64", "arm64"}, got)
}

func TestFold(t *testing.T) {
	assert.Equal(t, "amd64", Fold("noarch"))
	assert.Equal(t, "amd64", Fold("optenv32"))
	assert.Equal(t, "riscv64", Fold("riscv64"))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "AArch64", DisplayName("arm64"))
	assert.Equal(t, "Architecture-independent", DisplayName("noarch"))
	assert.Equal(t, "mystery", DisplayName("mystery"))
}
