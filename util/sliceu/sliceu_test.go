package sliceu_test

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"shardline.dev/shardline/util/sliceu"
)

func TestMap(t *testing.T) {
	got := sliceu.Map([]int{1, 2, 3}, strconv.Itoa)
	assert.Equal(t, []string{"1", "2", "3"}, got)

	assert.Empty(t, sliceu.Map(nil, strconv.Itoa))
}

func TestKeyMap(t *testing.T) {
	m := sliceu.KeyMap([]string{"a", "b", "a"})
	assert.Len(t, m, 2)
	_, ok := m["a"]
	assert.True(t, ok)
}
