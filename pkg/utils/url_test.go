package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveLink(t *testing.T) {
	tests := []struct {
		base, link, want string
	}{
		{"https://shop.example", "/p/123", "https://shop.example/p/123"},
		{"https://shop.example/", "/p/123?x=1", "https://shop.example/p/123?x=1"},
		{"https://shop.example/ro/", "/p/1", "https://shop.example/p/1"},
		{"https://shop.example", "https://cdn.example/p/1", "https://cdn.example/p/1"},
		{"https://shop.example", "//cdn.example/p/1", "//cdn.example/p/1"},
		{"https://shop.example", "N/A", "N/A"},
		{"shop", "/p/1", "shop/p/1"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ResolveLink(tt.base, tt.link), "%s + %s", tt.base, tt.link)
	}
}

func TestHashKey(t *testing.T) {
	assert.Len(t, HashKey("config.json"), 64)
	assert.Equal(t, HashKey("a"), HashKey("a"))
	assert.NotEqual(t, HashKey("a"), HashKey("b"))
}
