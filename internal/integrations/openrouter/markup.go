package openrouter

import (
	"regexp"
	"strings"
)

var (
	openFence  = regexp.MustCompile("(?i)^```(?:html)?\\s*")
	closeFence = regexp.MustCompile("\\s*```$")
)

// stripFences removes a surrounding markdown code fence, which models add
// despite instructions not to.
func stripFences(content string) string {
	content = openFence.ReplaceAllString(content, "")
	content = closeFence.ReplaceAllString(content, "")
	return strings.TrimSpace(content)
}

// EnsureCompleteHTML wraps a bare fragment into a deployable document.
// Markup that already carries a document skeleton passes through untouched.
func EnsureCompleteHTML(content string) string {
	if strings.Contains(content, "<html") && strings.Contains(content, "</body>") {
		return content
	}
	return `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <script src="https://cdn.tailwindcss.com"></script>
</head>
<body class="bg-gray-50 min-h-screen">
  <main class="container mx-auto p-4">
` + content + `
  </main>
</body>
</html>`
}
