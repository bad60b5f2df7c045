package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHybridDefaultMocksEverything(t *testing.T) {
	assert.True(t, MockEverything.ShouldMock("http"))
	assert.True(t, MockEverything.ShouldMock("db"))
	assert.True(t, MockEverything.ShouldMock("redis"))
}

func TestHybridMockAllowList(t *testing.T) {
	h := HybridPolicy{MockPlugins: []string{"http"}}
	assert.True(t, h.ShouldMock("http"))
	assert.False(t, h.ShouldMock("db"))
	assert.False(t, h.ShouldMock("redis"))
}

func TestHybridLiveDenyList(t *testing.T) {
	h := HybridPolicy{LivePlugins: []string{"db"}}
	assert.True(t, h.ShouldMock("http"))
	assert.False(t, h.ShouldMock("db"))
	assert.True(t, h.ShouldMock("redis"))
}

func TestHybridMockListWinsOverLiveList(t *testing.T) {
	h := HybridPolicy{
		MockPlugins: []string{"http", "db"},
		LivePlugins: []string{"db"},
	}
	// The allow-list is authoritative, even for tags also named live.
	assert.True(t, h.ShouldMock("http"))
	assert.True(t, h.ShouldMock("db"))
	assert.False(t, h.ShouldMock("redis"))
}
