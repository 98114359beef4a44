package chapter99

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luv91/tariffstack/internal/domain"
)

func TestResolveExactCode(t *testing.T) {
	res := Resolve("9903.88.03")
	require.NotNil(t, res)
	assert.Equal(t, domain.ProgramSection301, res.ProgramID)
	assert.Equal(t, "list_3", res.List)
	assert.Equal(t, domain.RoleImpose, res.Role)
	assert.Equal(t, 0.25, res.DefaultRate)
}

func TestResolveExclusionRole(t *testing.T) {
	res := Resolve("9903.88.69")
	require.NotNil(t, res)
	assert.Equal(t, domain.RoleExclude, res.Role)
	assert.Zero(t, res.DefaultRate)
}

func TestResolveUnknownCode(t *testing.T) {
	assert.Nil(t, Resolve("9903.99.99"))
	assert.Nil(t, Resolve(""))
}

func TestResolveInContext(t *testing.T) {
	narrative := "Products covered by subheading 9903.80.01 are subject to additional duty."
	res := ResolveInContext(narrative, "85444290")
	require.NotNil(t, res)
	assert.Equal(t, domain.ProgramSection232Steel, res.ProgramID)
	assert.True(t, res.IsClaim)
	assert.Equal(t, "steel_derivative", res.Sector, "chapter 85 is not a primary steel chapter")

	res = ResolveInContext(narrative, "72083900")
	require.NotNil(t, res)
	assert.Equal(t, "steel_primary", res.Sector)
}

func TestResolveInContextNoCode(t *testing.T) {
	assert.Nil(t, ResolveInContext("no code in this text", "85444290"))
	assert.Nil(t, ResolveInContext("mentions 9903.99.99 which is unknown", ""))
}

func TestClaimDisclaimPairs(t *testing.T) {
	claim := Resolve("9903.78.01")
	disclaim := Resolve("9903.78.02")
	require.NotNil(t, claim)
	require.NotNil(t, disclaim)
	assert.True(t, claim.IsClaim)
	assert.False(t, disclaim.IsClaim)
	assert.Equal(t, claim.ProgramID, disclaim.ProgramID)
}
