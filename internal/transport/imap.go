// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"

	"github.com/jearle/mailsift/internal/credentials"

	_ "github.com/emersion/go-message/charset"
)

// IMAPDialer opens IMAP sessions. The zero value is ready to use.
type IMAPDialer struct{}

// NewIMAPDialer creates an IMAP dialer.
func NewIMAPDialer() *IMAPDialer {
	return &IMAPDialer{}
}

// Connect dials the endpoint, authenticates with the credential, and selects
// the configured mailbox.
func (d *IMAPDialer) Connect(ctx context.Context, ep Endpoint, cred credentials.Credential) (Session, error) {
	addr := net.JoinHostPort(ep.Host, strconv.Itoa(ep.Port))

	var client *imapclient.Client
	var err error
	if ep.TLS {
		client, err = imapclient.DialTLS(addr, &imapclient.Options{
			TLSConfig: &tls.Config{ServerName: ep.Host},
		})
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("imap connect %s: %w", addr, err)
	}

	switch cred.Kind {
	case credentials.KindBearer:
		saslClient := sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: cred.Username,
			Token:    cred.Secret,
			Host:     ep.Host,
			Port:     ep.Port,
		})
		if err := client.Authenticate(saslClient); err != nil {
			client.Close()
			return nil, fmt.Errorf("imap oauth authenticate %s: %w", cred.Username, err)
		}
	default:
		if err := client.Login(cred.Username, cred.Secret).Wait(); err != nil {
			client.Close()
			return nil, fmt.Errorf("imap login %s: %w", cred.Username, err)
		}
	}

	mailbox := ep.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := client.Select(mailbox, nil).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("imap select %s: %w", mailbox, err)
	}

	slog.Debug("imap session established",
		"addr", addr,
		"user", cred.Username,
		"mailbox", mailbox,
	)

	return &imapSession{client: client, mailbox: mailbox}, nil
}

type imapSession struct {
	client  *imapclient.Client
	mailbox string
	closed  bool
}

func criteriaFromQuery(q Query) *imap.SearchCriteria {
	criteria := &imap.SearchCriteria{}
	if !q.Since.IsZero() {
		criteria.Since = q.Since
	}
	if q.WithoutFlag != "" {
		criteria.NotFlag = []imap.Flag{imap.Flag(q.WithoutFlag)}
	}
	return criteria
}

func (s *imapSession) search(q Query) ([]imap.UID, error) {
	data, err := s.client.UIDSearch(criteriaFromQuery(q), nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	return data.AllUIDs(), nil
}

func (s *imapSession) CountCandidates(_ context.Context, q Query) (int, error) {
	uids, err := s.search(q)
	if err != nil {
		return 0, err
	}
	return len(uids), nil
}

func (s *imapSession) FetchCandidateIDs(_ context.Context, q Query) ([]string, error) {
	uids, err := s.search(q)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(uids))
	for _, uid := range uids {
		ids = append(ids, strconv.FormatUint(uint64(uid), 10))
	}
	return ids, nil
}

func parseID(id string) (imap.UID, error) {
	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid message id %q: %w", id, err)
	}
	return imap.UID(n), nil
}

func (s *imapSession) FetchContent(_ context.Context, id string) (*Content, error) {
	uid, err := parseID(id)
	if err != nil {
		return nil, err
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := s.client.Fetch(imap.UIDSetNum(uid), &imap.FetchOptions{
		Envelope:    true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, fmt.Errorf("message %s not found", id)
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("collect message %s: %w", id, err)
	}

	content := &Content{}
	if buf.Envelope != nil {
		content.Subject = buf.Envelope.Subject
		content.Date = buf.Envelope.Date
		if len(buf.Envelope.From) > 0 {
			content.Sender = buf.Envelope.From[0].Addr()
		}
	}

	raw := buf.FindBodySection(bodySection)
	if len(raw) == 0 {
		return nil, fmt.Errorf("message %s has no body", id)
	}

	content.PlainBody, content.HTMLBody = parseBody(raw)
	if content.PlainBody == "" && content.HTMLBody == "" {
		// Unparsable MIME still has to yield something classifiable.
		content.PlainBody = string(raw)
	}

	return content, nil
}

// parseBody walks the MIME structure and picks the first text/plain and
// text/html inline parts.
func parseBody(raw []byte) (plain, html string) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		slog.Warn("mime parse failed, treating body as plain text", "error", err)
		return "", ""
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			slog.Warn("mime part read failed", "error", err)
			break
		}

		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		contentType, _, err := header.ContentType()
		if err != nil {
			continue
		}

		switch strings.ToLower(contentType) {
		case "text/plain":
			if plain == "" {
				b, _ := io.ReadAll(part.Body)
				plain = string(b)
			}
		case "text/html":
			if html == "" {
				b, _ := io.ReadAll(part.Body)
				html = string(b)
			}
		}
	}

	return plain, html
}

func (s *imapSession) SetFlag(_ context.Context, id, flag string) error {
	if !ValidFlagName(flag) {
		return fmt.Errorf("invalid flag name %q: only alphanumerics, underscore and period are allowed", flag)
	}

	uid, err := parseID(id)
	if err != nil {
		return err
	}

	cmd := s.client.Store(imap.UIDSetNum(uid), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.Flag(flag)},
	}, nil)
	if err := cmd.Close(); err != nil {
		return fmt.Errorf("imap store flag %s on %s: %w", flag, id, err)
	}
	return nil
}

// Close logs out and closes the connection. Safe to call repeatedly, and safe
// after a partially failed setup.
func (s *imapSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	logoutDone := make(chan error, 1)
	go func() {
		logoutDone <- s.client.Logout().Wait()
	}()
	select {
	case err := <-logoutDone:
		if err != nil {
			slog.Debug("imap logout failed", "error", err)
		}
	case <-time.After(5 * time.Second):
		slog.Debug("imap logout timed out")
	}

	return s.client.Close()
}
