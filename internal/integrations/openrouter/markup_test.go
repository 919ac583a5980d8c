package openrouter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStripFences(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "no fence", in: "<html></html>", want: "<html></html>"},
		{name: "html fence", in: "```html\n<html></html>\n```", want: "<html></html>"},
		{name: "bare fence", in: "```\n<div>x</div>\n```", want: "<div>x</div>"},
		{name: "uppercase fence", in: "```HTML\n<html></html>\n```", want: "<html></html>"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, stripFences(tc.in))
		})
	}
}

func TestEnsureCompleteHTML_PassesThroughFullDocument(t *testing.T) {
	doc := "<!DOCTYPE html><html><head></head><body><h1>hi</h1></body></html>"
	require.Equal(t, doc, EnsureCompleteHTML(doc))
}

func TestEnsureCompleteHTML_WrapsFragment(t *testing.T) {
	out := EnsureCompleteHTML("<h1>Barbearia do Zé</h1>")
	require.True(t, strings.HasPrefix(out, "<!DOCTYPE html>"))
	require.Contains(t, out, "<h1>Barbearia do Zé</h1>")
	require.Contains(t, out, "cdn.tailwindcss.com")
	require.Contains(t, out, "</body>")
}
