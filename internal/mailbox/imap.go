package mailbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"resume-intake/internal/config"
)

// Session is one authenticated connection with the folder selected.
type Session interface {
	// FetchUnseen returns the raw bodies of unseen messages. Fetching marks
	// them seen.
	FetchUnseen(ctx context.Context) ([][]byte, error)
	Logout() error
}

// Dialer opens a new Session.
type Dialer func(ctx context.Context) (Session, error)

type imapSession struct {
	c *client.Client
}

// IMAPDialer connects over implicit TLS, logs in and selects the folder.
func IMAPDialer(cfg config.MailboxConfig, timeout time.Duration) Dialer {
	return func(ctx context.Context) (Session, error) {
		if cfg.Username == "" || cfg.Password == "" {
			return nil, errors.New("mailbox credentials are not configured")
		}
		c, err := client.DialTLS(cfg.Address, nil)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", cfg.Address, err)
		}
		c.Timeout = timeout
		sess, err := openSession(c, cfg)
		if err != nil {
			return nil, err
		}
		return sess, nil
	}
}

// openSession logs in on an established connection and selects the folder.
// The connection is logged out on failure.
func openSession(c *client.Client, cfg config.MailboxConfig) (*imapSession, error) {
	if err := c.Login(cfg.Username, cfg.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("login: %w", err)
	}
	folder := cfg.Folder
	if folder == "" {
		folder = "INBOX"
	}
	if _, err := c.Select(folder, false); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("select %s: %w", folder, err)
	}
	return &imapSession{c: c}, nil
}

func (s *imapSession) FetchUnseen(ctx context.Context) ([][]byte, error) {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := s.c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("search unseen: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seq := new(imap.SeqSet)
	seq.AddNum(uids...)
	section := &imap.BodySectionName{}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- s.c.UidFetch(seq, []imap.FetchItem{section.FetchItem()}, messages)
	}()

	bodies := make([][]byte, 0, len(uids))
	var readErr error
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil || readErr != nil {
			continue
		}
		data, err := io.ReadAll(body)
		if err != nil {
			readErr = fmt.Errorf("read message %d: %w", msg.Uid, err)
			continue
		}
		bodies = append(bodies, data)
	}
	if err := <-done; err != nil {
		return bodies, fmt.Errorf("fetch unseen: %w", err)
	}
	return bodies, readErr
}

func (s *imapSession) Logout() error {
	return s.c.Logout()
}
