package usecase

import (
	"context"
	"errors"
	"log/slog"

	"sitegen-agent/internal/domain"
)

// Messenger is the outbound messaging surface (WhatsApp Graph API in
// production).
type Messenger interface {
	SendText(ctx context.Context, to, body string) error
	SendImage(ctx context.Context, to, imageURL, caption string) error
	SendInteractiveChoice(ctx context.Context, to, body string, options []string) error
}

// User-facing copy. Generation/deployment failures are always communicated;
// screenshot failures never are.
const (
	msgGreeting = "👋 Olá! Eu crio sites profissionais a partir de uma descrição.\n" +
		"O que você quer fazer?"
	msgAskPrompt = "✍️ Me descreva o site que você quer. Exemplo:\n" +
		"\"Quero um site para minha loja de roupas\""
	msgAcknowledge  = "⌛ Gerando seu site profissional... Isso pode levar alguns minutos!"
	msgStillWorking = "⏳ Ainda estou trabalhando no seu site. Já te aviso quando terminar!"
	msgTimedOut     = "⌛ O tempo para gerar seu site expirou. Por favor, tente novamente mais tarde."
	msgFailed       = "❌ Ocorreu um erro ao gerar seu site. Por favor, tente novamente mais tarde."
	msgGoodbye      = "👋 Até logo! Me chame quando quiser criar outro site."
	captionPreview  = "Preview do seu site gerado"
)

// choiceOptions are the interactive buttons offered on first contact. Button
// ids match domain.SessionAction values.
var choiceOptions = []string{string(domain.ActionCreate), string(domain.ActionEdit)}

// Notifier maps orchestrator and intake outcomes to outbound messages.
// Delivery failures are logged and swallowed — they never re-trigger the
// build flow.
type Notifier struct {
	messenger Messenger
}

func NewNotifier(messenger Messenger) (*Notifier, error) {
	if messenger == nil {
		return nil, errors.New("usecase: messenger must not be nil")
	}
	return &Notifier{messenger: messenger}, nil
}

func (n *Notifier) send(ctx context.Context, to, body string) {
	if err := n.messenger.SendText(ctx, to, body); err != nil {
		slog.Error("notification delivery failed", "to", to, "err", err)
	}
}

// Greet welcomes a new user and offers the create/edit choice.
func (n *Notifier) Greet(ctx context.Context, to string) {
	if err := n.messenger.SendInteractiveChoice(ctx, to, msgGreeting, choiceOptions); err != nil {
		slog.Error("greeting delivery failed", "to", to, "err", err)
	}
}

// AskPrompt requests the site description.
func (n *Notifier) AskPrompt(ctx context.Context, to string) {
	n.send(ctx, to, msgAskPrompt)
}

// Acknowledge confirms a build was accepted and is running.
func (n *Notifier) Acknowledge(ctx context.Context, to string) {
	n.send(ctx, to, msgAcknowledge)
}

// StillWorking answers messages that arrive while a build is in flight.
func (n *Notifier) StillWorking(ctx context.Context, to string) {
	n.send(ctx, to, msgStillWorking)
}

// Goodbye acknowledges an explicit exit.
func (n *Notifier) Goodbye(ctx context.Context, to string) {
	n.send(ctx, to, msgGoodbye)
}

// InvalidPrompt relays the validator's verdict at most once per invalid
// streak: when the session was already warned, nothing is sent. Returns
// whether a warning went out so the caller can persist the flag.
func (n *Notifier) InvalidPrompt(ctx context.Context, sess *domain.Session, result ValidationResult) bool {
	if sess.InvalidPromptWarned {
		return false
	}
	body := "❌ " + result.Reason
	if result.Suggestion != "" {
		body += "\n\n💡 Sugestão: \"" + result.Suggestion + "\""
	}
	n.send(ctx, sess.UserID, body)
	return true
}

// BuildSucceeded sends the preview thumbnail (when present) and the live URL.
func (n *Notifier) BuildSucceeded(ctx context.Context, to, resultURL, thumbnailURL string) {
	if thumbnailURL != "" {
		if err := n.messenger.SendImage(ctx, to, thumbnailURL, captionPreview); err != nil {
			slog.Error("thumbnail delivery failed", "to", to, "err", err)
		}
	}
	n.send(ctx, to, "✅ Seu site está pronto!\n\n🌐 "+resultURL+"\n(Link válido por 24h)")
}

// BuildFailed distinguishes a timed-out build from a terminal failure.
func (n *Notifier) BuildFailed(ctx context.Context, to string, timedOut bool) {
	if timedOut {
		n.send(ctx, to, msgTimedOut)
		return
	}
	n.send(ctx, to, msgFailed)
}
