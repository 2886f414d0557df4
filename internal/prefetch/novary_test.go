package prefetch

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		nvs  *NoVarySearch
		want string
	}{
		{name: "nil keeps everything", raw: "https://a.test/p?b=2&a=1#frag", nvs: nil, want: "https://a.test/p?b=2&a=1"},
		{name: "ignore all", raw: "https://a.test/p?b=2&a=1", nvs: IgnoreAll(), want: "https://a.test/p"},
		{name: "ignore listed", raw: "https://a.test/p?ts=1&q=x&uid=7", nvs: Ignore("ts", "uid"), want: "https://a.test/p?q=x"},
		{name: "ignore all but listed", raw: "https://a.test/p?ts=1&q=x&id=7", nvs: IgnoreExcept("id", "q"), want: "https://a.test/p?id=7&q=x"},
		{name: "key order ignored", raw: "https://a.test/p?b=2&a=1", nvs: &NoVarySearch{VaryByDefault: true}, want: "https://a.test/p?a=1&b=2"},
		{name: "escaped key", raw: "https://a.test/p?t%73=1&q=x", nvs: Ignore("ts"), want: "https://a.test/p?q=x"},
		{name: "empty query", raw: "https://a.test/p?", nvs: Ignore("ts"), want: "https://a.test/p"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeURL(tt.raw, tt.nvs)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsPrefetchRequest(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"prefetch", true},
		{"Prefetch", true},
		{"prefetch;anonymous-client-ip", true},
		{" prefetch , other", true},
		{"prerender", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			h := http.Header{}
			if tt.value != "" {
				h.Set(SecPurposeHeader, tt.value)
			}
			assert.Equal(t, tt.want, IsPrefetchRequest(h))
		})
	}
}
