package integrations

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/huddle/internal/config"
	"github.com/nugget/huddle/internal/tools"
)

const (
	bindingGmailSend   tools.Binding = "gmail:sendEmail"
	bindingGmailSearch tools.Binding = "gmail:searchInbox"
)

type mailSender interface {
	Send(ctx context.Context, from string, recipients []string, msg []byte) error
}

type mailbox interface {
	Search(ctx context.Context, q inboxQuery) ([]Envelope, error)
}

// Gmail sends mail through the account's SMTP relay and searches its
// inbox over IMAP.
type Gmail struct {
	cfg    config.GmailConfig
	sender mailSender
	box    mailbox
	now    func() time.Time
	logger *slog.Logger
}

// NewGmail returns the Gmail provider for cfg.
func NewGmail(cfg config.GmailConfig, logger *slog.Logger) *Gmail {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("integration", "gmail")
	return &Gmail{
		cfg:    cfg,
		sender: smtpSender{cfg: cfg},
		box:    imapMailbox{cfg: cfg, logger: logger},
		now:    time.Now,
		logger: logger,
	}
}

// Name implements Provider.
func (g *Gmail) Name() string { return "gmail" }

// Bindings implements Provider.
func (g *Gmail) Bindings() []tools.Binding {
	return []tools.Binding{bindingGmailSend, bindingGmailSearch}
}

// Action implements Provider.
func (g *Gmail) Action(ctx context.Context, binding tools.Binding, args map[string]any) (any, error) {
	if !g.cfg.Configured() {
		return nil, &CredentialsError{Integration: "gmail"}
	}
	switch binding {
	case bindingGmailSend:
		return g.send(ctx, args)
	case bindingGmailSearch:
		return g.search(ctx, args)
	}
	return nil, &ErrUnknownBinding{Provider: g.Name(), Binding: binding}
}

func (g *Gmail) send(ctx context.Context, args map[string]any) (any, error) {
	to := argList(args, "to")
	if len(to) == 0 {
		return nil, fmt.Errorf("missing required parameter %q", "to")
	}
	subject, err := requireString(args, "subject")
	if err != nil {
		return nil, err
	}
	body, err := requireString(args, "body")
	if err != nil {
		return nil, err
	}
	cc := argList(args, "cc")

	msg, err := compose(outgoing{
		From:    g.cfg.Address,
		To:      to,
		Cc:      cc,
		Subject: subject,
		Body:    body,
		Date:    g.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("compose: %w", err)
	}

	recipients := envelopeRecipients(to, cc)
	if err := g.sender.Send(ctx, bareAddress(g.cfg.Address), recipients, msg); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}

	g.logger.Info("email sent", "recipients", len(recipients), "subject", subject)
	return map[string]any{
		"sent":       true,
		"recipients": recipients,
		"subject":    subject,
	}, nil
}

func (g *Gmail) search(ctx context.Context, args map[string]any) (any, error) {
	q := inboxQuery{
		Text:  argString(args, "query"),
		From:  argString(args, "from"),
		Limit: clamp(argInt(args, "limit", 0), 10, 50),
	}
	envs, err := g.box.Search(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("search inbox: %w", err)
	}
	if envs == nil {
		envs = []Envelope{}
	}
	return map[string]any{
		"messages": envs,
		"count":    len(envs),
	}, nil
}
