package github

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPackagesFromBody(t *testing.T) {
	body := "Topic: update fd\n\n#buildit fd ripgrep\n\nSome more text"
	assert.Equal(t, []string{"fd", "ripgrep"}, PackagesFromBody(body))
}

func TestPackagesFromBodyFirstMarkerWins(t *testing.T) {
	body := "#buildit fd\n#buildit ripgrep"
	assert.Equal(t, []string{"fd"}, PackagesFromBody(body))
}

func TestPackagesFromBodyNoMarker(t *testing.T) {
	assert.Nil(t, PackagesFromBody("just a description"))
	assert.Nil(t, PackagesFromBody(""))
}

func TestPackagesFromBodyEmptyMarker(t *testing.T) {
	assert.Nil(t, PackagesFromBody("#buildit\nrest"))
}

func TestParseCommandBuild(t *testing.T) {
	cmd := ParseCommand("@aura-forge-bot build amd64,arm64", "@aura-forge-bot")
	assert.NotNil(t, cmd)
	assert.Equal(t, "build", cmd.Action)
	assert.Equal(t, []string{"amd64", "arm64"}, cmd.Archs)
}

func TestParseCommandNoArchs(t *testing.T) {
	cmd := ParseCommand("@aura-forge-bot build", "@aura-forge-bot")
	assert.NotNil(t, cmd)
	assert.Equal(t, "build", cmd.Action)
	assert.Empty(t, cmd.Archs)
}

func TestParseCommandNotAddressed(t *testing.T) {
	assert.Nil(t, ParseCommand("looks good to me", "@aura-forge-bot"))
	assert.Nil(t, ParseCommand("@someone-else build", "@aura-forge-bot"))
	assert.Nil(t, ParseCommand("@aura-forge-bot", "@aura-forge-bot"))
}
