package buildtree

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidPackageList(t *testing.T) {
	assert.True(t, ValidPackageList("fd"))
	assert.True(t, ValidPackageList("fd,ripgrep,llvm-15"))
	assert.True(t, ValidPackageList("groups/transitional:gcc"))
	assert.False(t, ValidPackageList("fd; rm -rf /"))
	assert.False(t, ValidPackageList("fd ripgrep"))
	assert.False(t, ValidPackageList(""))
}

func TestValidBranch(t *testing.T) {
	assert.True(t, ValidBranch("stable"))
	assert.True(t, ValidBranch("fd-9.0.0"))
	assert.True(t, ValidBranch("topic_branch+v2"))
	assert.False(t, ValidBranch("a/b"))
	assert.False(t, ValidBranch("br anch"))
	assert.False(t, ValidBranch(""))
}

func TestValidSHA(t *testing.T) {
	assert.True(t, ValidSHA("0123456789abcdef0123456789abcdef01234567"))
	assert.False(t, ValidSHA("HEAD~1"))
	assert.False(t, ValidSHA(""))
}
