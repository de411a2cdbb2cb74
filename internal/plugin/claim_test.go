package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClaimedFields_DisjointClaims(t *testing.T) {
	c := NewClaimedFields()
	_, ok := c.Claim("func", "funcbody")
	assert.True(t, ok)
	owner, ok := c.Claim("func", "other")
	assert.False(t, ok)
	assert.Equal(t, "funcbody", owner)
}

func TestClaimedFields_Has(t *testing.T) {
	c := NewClaimedFields()
	assert.False(t, c.Has("info"))
	c.Claim("info", "docfield")
	assert.True(t, c.Has("info"))
}
