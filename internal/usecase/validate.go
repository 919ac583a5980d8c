package usecase

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const minPromptLength = 10

// ValidationResult is the validator's verdict. Suggestion, when set, is a
// rewritten prompt the user can send as-is.
type ValidationResult struct {
	Valid      bool
	Reason     string
	Suggestion string
}

// siteKeywords are the nouns that mark a message as a website request. Matched
// against the normalized (lowercased, deaccented, depunctuated) prompt.
var siteKeywords = []string{
	// site types
	"site", "pagina", "web", "landing page", "lp", "homepage",
	"portfolio", "vitrine", "one page", "single page",
	// purposes
	"loja", "ecommerce", "e-commerce", "blog", "institucional",
	"empresa", "negocio", "servico", "comercial", "vendas",
	"cardapio", "catalogo",
	// technologies
	"html", "css", "react", "wordpress",
}

// intentPatterns catch phrasings like "quero um site para..." that carry no
// bare keyword after normalization quirks.
var intentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:criar|fazer|desenvolver|construir|preciso|quero)\s+(?:um|uma|o|a)?\s*(site|página|web)`),
	regexp.MustCompile(`(?i)(?:site|página)\s+(?:para|de)\s+`),
	regexp.MustCompile(`(?i)(?:ter|ter um|ter uma)\s+(?:site|homepage|landing page)`),
}

var deaccenter = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// ValidatePrompt classifies whether text plausibly asks for a website.
// Deterministic and side-effect free.
func ValidatePrompt(text string) ValidationResult {
	if len(strings.TrimSpace(text)) < minPromptLength {
		return ValidationResult{
			Valid:  false,
			Reason: "Mensagem muito curta. Por favor, descreva melhor seu site.",
		}
	}

	normalized := normalizePrompt(text)

	hasKeyword := false
	for _, kw := range siteKeywords {
		if strings.Contains(normalized, kw) {
			hasKeyword = true
			break
		}
	}
	hasPattern := false
	for _, p := range intentPatterns {
		if p.MatchString(text) {
			hasPattern = true
			break
		}
	}

	if !hasKeyword && !hasPattern {
		return ValidationResult{
			Valid: false,
			Reason: "Não identifiquei que você quer criar um site. Diga algo como: " +
				"'Quero um site para minha loja de roupas' ou 'Preciso de uma página para meu restaurante'.",
			Suggestion: "Site para " + strings.TrimSpace(text),
		}
	}
	return ValidationResult{Valid: true}
}

// normalizePrompt lowercases, strips diacritics and replaces punctuation with
// spaces so keyword matching is accent- and punctuation-insensitive.
func normalizePrompt(text string) string {
	lower := strings.ToLower(text)
	plain, _, err := transform.String(deaccenter, lower)
	if err != nil {
		plain = lower
	}
	var b strings.Builder
	b.Grow(len(plain))
	for _, r := range plain {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return b.String()
}
