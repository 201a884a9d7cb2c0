package integrations

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nugget/huddle/internal/config"
)

// Envelope is the summary of one mailbox message returned to the model.
type Envelope struct {
	UID     uint32    `json:"uid"`
	From    string    `json:"from"`
	To      []string  `json:"to,omitempty"`
	Subject string    `json:"subject"`
	Date    time.Time `json:"date"`
}

// inboxQuery filters an inbox search.
type inboxQuery struct {
	Text  string
	From  string
	Limit int
}

// imapMailbox searches the INBOX over a fresh IMAPS connection per call.
type imapMailbox struct {
	cfg    config.GmailConfig
	logger *slog.Logger
}

func (m imapMailbox) Search(ctx context.Context, q inboxQuery) ([]Envelope, error) {
	addr := net.JoinHostPort(m.cfg.IMAPHost, strconv.Itoa(m.cfg.IMAPPort))
	client, err := imapclient.DialTLS(addr, &imapclient.Options{
		TLSConfig: &tls.Config{ServerName: m.cfg.IMAPHost},
	})
	if err != nil {
		return nil, fmt.Errorf("dial IMAP %s: %w", addr, err)
	}
	defer client.Close()

	// The client has no context support; closing the connection unblocks
	// any pending command.
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	if err := client.Login(m.cfg.Username, m.cfg.Password).Wait(); err != nil {
		return nil, fmt.Errorf("login as %s: %w", m.cfg.Username, err)
	}
	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return nil, fmt.Errorf("select INBOX: %w", err)
	}

	criteria := &imap.SearchCriteria{}
	if q.Text != "" {
		criteria.Text = append(criteria.Text, q.Text)
	}
	if q.From != "" {
		criteria.Header = append(criteria.Header, imap.SearchCriteriaHeaderField{
			Key:   "From",
			Value: q.From,
		})
	}
	data, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("search INBOX: %w", err)
	}

	uids := data.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	if len(uids) > q.Limit {
		uids = uids[len(uids)-q.Limit:]
	}
	var set imap.UIDSet
	for _, uid := range uids {
		set.AddNum(uid)
	}

	fetch := client.Fetch(set, &imap.FetchOptions{UID: true, Envelope: true})
	var out []Envelope
	for {
		msg := fetch.Next()
		if msg == nil {
			break
		}
		if env, ok := readEnvelope(msg); ok {
			out = append(out, env)
		}
	}
	if err := fetch.Close(); err != nil {
		return nil, fmt.Errorf("fetch envelopes: %w", err)
	}

	// Newest first.
	slices.SortFunc(out, func(a, b Envelope) int { return int(b.UID) - int(a.UID) })
	m.logger.Debug("inbox searched", "matches", len(data.AllUIDs()), "returned", len(out))
	return out, nil
}

func readEnvelope(msg *imapclient.FetchMessageData) (Envelope, bool) {
	var env Envelope
	for {
		item := msg.Next()
		if item == nil {
			break
		}
		switch data := item.(type) {
		case imapclient.FetchItemDataUID:
			env.UID = uint32(data.UID)
		case imapclient.FetchItemDataEnvelope:
			if data.Envelope == nil {
				continue
			}
			env.Date = data.Envelope.Date
			env.Subject = data.Envelope.Subject
			if len(data.Envelope.From) > 0 {
				env.From = formatIMAPAddress(data.Envelope.From[0])
			}
			for _, a := range data.Envelope.To {
				env.To = append(env.To, formatIMAPAddress(a))
			}
		case imapclient.FetchItemDataBodySection:
			if data.Literal != nil {
				_, _ = io.Copy(io.Discard, data.Literal)
			}
		}
	}
	return env, env.UID != 0
}

func formatIMAPAddress(a imap.Address) string {
	if a.Name != "" {
		return fmt.Sprintf("%s <%s>", a.Name, a.Addr())
	}
	return a.Addr()
}
