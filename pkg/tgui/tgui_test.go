package tgui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscaping(t *testing.T) {
	t.Parallel()

	assert.Equal(t, H("&lt;b&gt;hi&lt;/b&gt;"), Esc("<b>hi</b>"))
	assert.Equal(t, H("<code>/ban &amp; co</code>"), Code("/ban & co"))
	assert.Equal(t, H(`<a href="tg://user?id=42">&#34;al&#34;</a>`), Mention(`"al"`, 42))
	assert.Equal(t, H("<b>a</b> - b"), JoinH(" - ", B("a"), "", Esc("b")))
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 4, "hell…"},
		{"héllo wörld", 2, "hé…"},
		{"⏰⏰⏰", 1, "⏰…"},
		{"x", 0, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TruncRunes(tt.in, tt.n), "%q/%d", tt.in, tt.n)
	}
}
