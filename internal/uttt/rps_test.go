package uttt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveThrows_Precedence(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(1, ResolveThrows(Rock, Scissors))
	assert.Equal(1, ResolveThrows(Scissors, Paper))
	assert.Equal(1, ResolveThrows(Paper, Rock))

	assert.Equal(2, ResolveThrows(Scissors, Rock))
	assert.Equal(2, ResolveThrows(Paper, Scissors))
	assert.Equal(2, ResolveThrows(Rock, Paper))
}

func TestResolveThrows_IdenticalIsTie(t *testing.T) {
	assert := assert.New(t)

	for _, throw := range []string{Rock, Paper, Scissors} {
		assert.Equal(0, ResolveThrows(throw, throw))
	}
}

func TestValidThrow(t *testing.T) {
	assert := assert.New(t)

	assert.True(ValidThrow(Rock))
	assert.True(ValidThrow(Paper))
	assert.True(ValidThrow(Scissors))
	assert.False(ValidThrow(""))
	assert.False(ValidThrow("rock"))
}
