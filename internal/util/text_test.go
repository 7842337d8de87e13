package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripNUL(t *testing.T) {
	in := "a\x00b" + `\u0000c\00d\x00e`
	assert.Equal(t, "abcde", StripNUL(in))
}

func TestSourceName(t *testing.T) {
	assert.Equal(t, "Twitter for iPhone", SourceName(`<a href="http://twitter.com/download/iphone" rel="nofollow">Twitter for iPhone</a>`))
	assert.Equal(t, "web", SourceName("web"))
	assert.Equal(t, "A & B", SourceName(`<a href="x">A &amp; B</a>`))
}

func TestUniqKeepsOrder(t *testing.T) {
	out, dup := Uniq([]string{"b", "a", "b", "c", "a"})
	assert.Equal(t, []string{"b", "a", "c"}, out)
	assert.True(t, dup)
	_, dup = Uniq([]int{1, 2})
	assert.False(t, dup)
}

func TestChunk(t *testing.T) {
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, Chunk([]int{1, 2, 3, 4, 5}, 2))
	assert.Equal(t, [][]int{{1, 2, 3}}, Chunk([]int{1, 2, 3}, 0))
	assert.Nil(t, Chunk([]int{}, 3))
}
