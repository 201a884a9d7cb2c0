package integrations

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/yuin/goldmark"

	"github.com/nugget/huddle/internal/config"
)

// smtpDialTimeout caps connection setup when ctx has no earlier deadline.
const smtpDialTimeout = 30 * time.Second

// outgoing is one composed email before it is rendered.
type outgoing struct {
	From    string
	To      []string
	Cc      []string
	Subject string
	Body    string // markdown
	Date    time.Time
}

// compose renders m as a multipart/alternative RFC 5322 message with a
// plain-text and an HTML rendering of the markdown body.
func compose(m outgoing) ([]byte, error) {
	var h mail.Header
	h.SetDate(m.Date)
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generate message-id: %w", err)
	}
	h.SetSubject(m.Subject)

	from, err := mail.ParseAddress(m.From)
	if err != nil {
		return nil, fmt.Errorf("parse from address %q: %w", m.From, err)
	}
	h.SetAddressList("From", []*mail.Address{from})

	to, err := parseAddresses(m.To)
	if err != nil {
		return nil, err
	}
	h.SetAddressList("To", to)
	if len(m.Cc) > 0 {
		cc, err := parseAddresses(m.Cc)
		if err != nil {
			return nil, err
		}
		h.SetAddressList("Cc", cc)
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create mail writer: %w", err)
	}
	tw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("create inline writer: %w", err)
	}

	html, err := renderHTML(m.Body)
	if err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}
	parts := []struct{ contentType, body string }{
		{"text/plain; charset=utf-8", stripMarkdown(m.Body)},
		{"text/html; charset=utf-8", html},
	}
	for _, p := range parts {
		var ph mail.InlineHeader
		ph.Set("Content-Type", p.contentType)
		pw, err := tw.CreatePart(ph)
		if err != nil {
			return nil, fmt.Errorf("create %s part: %w", p.contentType, err)
		}
		if _, err := io.WriteString(pw, p.body); err != nil {
			return nil, fmt.Errorf("write %s part: %w", p.contentType, err)
		}
		if err := pw.Close(); err != nil {
			return nil, fmt.Errorf("close %s part: %w", p.contentType, err)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close inline writer: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close mail writer: %w", err)
	}
	return buf.Bytes(), nil
}

func parseAddresses(addrs []string) ([]*mail.Address, error) {
	out := make([]*mail.Address, 0, len(addrs))
	for _, a := range addrs {
		parsed, err := mail.ParseAddress(a)
		if err != nil {
			return nil, fmt.Errorf("parse address %q: %w", a, err)
		}
		out = append(out, parsed)
	}
	return out, nil
}

func renderHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"></head>\n<body>\n" +
		buf.String() + "</body></html>", nil
}

var (
	mdEmphasis = regexp.MustCompile(`(\*\*|\*)(\S(?:.*?\S)?)(\*\*|\*)`)
	mdLinkText = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	mdHeader   = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdFence    = regexp.MustCompile("(?m)^```[a-zA-Z]*\n?")
	mdTick     = regexp.MustCompile("`([^`]+)`")
)

// stripMarkdown reduces markdown to readable plain text. Links keep
// their target in parentheses.
func stripMarkdown(md string) string {
	s := mdFence.ReplaceAllString(md, "")
	s = mdLinkText.ReplaceAllString(s, "$1 ($2)")
	s = mdHeader.ReplaceAllString(s, "")
	s = mdEmphasis.ReplaceAllString(s, "$2")
	s = mdTick.ReplaceAllString(s, "$1")
	return strings.TrimSpace(s)
}

// bareAddress returns the addr-spec of "Name <addr>" or addr itself.
func bareAddress(s string) string {
	if a, err := mail.ParseAddress(s); err == nil {
		return a.Address
	}
	return strings.TrimSpace(s)
}

// envelopeRecipients returns the unique bare addresses across lists.
func envelopeRecipients(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, l := range lists {
		for _, a := range l {
			bare := bareAddress(a)
			if bare != "" && !seen[bare] {
				seen[bare] = true
				out = append(out, bare)
			}
		}
	}
	return out
}

// smtpSender delivers composed messages. Each send opens its own
// connection. Port 465 uses implicit TLS; any other port upgrades with
// STARTTLS.
type smtpSender struct {
	cfg config.GmailConfig
}

func (s smtpSender) Send(ctx context.Context, from string, recipients []string, msg []byte) error {
	host := s.cfg.SMTPHost
	addr := net.JoinHostPort(host, strconv.Itoa(s.cfg.SMTPPort))

	timeout := smtpDialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	dialer := &net.Dialer{Timeout: timeout}
	implicitTLS := s.cfg.SMTPPort == 465

	var conn net.Conn
	var err error
	if implicitTLS {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: host})
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("dial SMTP %s: %w", addr, err)
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("create SMTP client on %s: %w", addr, err)
	}
	defer client.Close()

	if err := client.Hello("localhost"); err != nil {
		return fmt.Errorf("EHLO: %w", err)
	}
	if !implicitTLS {
		if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return fmt.Errorf("STARTTLS: %w", err)
		}
	}
	if err := client.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, host)); err != nil {
		return fmt.Errorf("AUTH: %w", err)
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close DATA: %w", err)
	}
	return client.Quit()
}
