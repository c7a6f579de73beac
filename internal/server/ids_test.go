package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSessionID_ShapeAndShard(t *testing.T) {
	for i := 0; i < 100; i++ {
		id := NewSessionID()
		assert.Len(t, id, 6)
		shard := ShardOf(id)
		assert.GreaterOrEqual(t, shard, 1)
		assert.LessOrEqual(t, shard, shardCount)
	}
}

func TestShardOf_InvalidIDs(t *testing.T) {
	assert.Equal(t, 0, ShardOf(""))
	assert.Equal(t, 0, ShardOf("0abcde"))
	assert.Equal(t, 0, ShardOf("9abcde"))
	assert.Equal(t, 0, ShardOf("xabcde"))
}

func TestSanitizeToken(t *testing.T) {
	assert.Equal(t, "Player_1", SanitizeToken("Player_1"))
	assert.Equal(t, "alertxss", SanitizeToken("<alert>xss</>"))
	assert.Equal(t, "name", SanitizeToken("  name  "))
	assert.Equal(t, "José, señor", SanitizeToken("José, señor!"))
	assert.Equal(t, "", SanitizeToken("<>!@#$%^&*()"))
}
