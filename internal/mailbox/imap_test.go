package mailbox

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-intake/internal/config"
)

const testFolder = "Resumes"

// startIMAP serves the in-memory backend on a loopback port. Its built-in
// account is username/password.
func startIMAP(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := server.New(memory.New())
	s.AllowInsecureAuth = true
	go s.Serve(l)
	t.Cleanup(func() { s.Close() })

	setup, err := client.Dial(l.Addr().String())
	require.NoError(t, err)
	require.NoError(t, setup.Login("username", "password"))
	require.NoError(t, setup.Create(testFolder))
	require.NoError(t, setup.Logout())
	return l.Addr().String()
}

func dialSession(t *testing.T, addr string, cfg config.MailboxConfig) *imapSession {
	t.Helper()
	c, err := client.Dial(addr)
	require.NoError(t, err)
	c.Timeout = 5 * time.Second
	sess, err := openSession(c, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Logout() })
	return sess
}

func TestIMAPSessionFetchUnseen(t *testing.T) {
	addr := startIMAP(t)
	sess := dialSession(t, addr, config.MailboxConfig{Username: "username", Password: "password", Folder: testFolder})
	ctx := context.Background()

	bodies, err := sess.FetchUnseen(ctx)
	require.NoError(t, err)
	assert.Nil(t, bodies)

	msg := rawMessage(attachmentPart("attachment", "resume.pdf", "application/pdf", pdfB64))
	require.NoError(t, sess.c.Append(testFolder, nil, time.Now(), bytes.NewBuffer(msg)))

	bodies, err = sess.FetchUnseen(ctx)
	require.NoError(t, err)
	require.Len(t, bodies, 1)

	atts, skipped, err := NewFilter(nil).Extract(bytes.NewReader(bodies[0]))
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, atts, 1)
	assert.Equal(t, "resume.pdf", atts[0].Filename)
	assert.Equal(t, "%PDF-1.4", string(atts[0].Data))
}

func TestIMAPSessionRejectsBadLogin(t *testing.T) {
	addr := startIMAP(t)
	c, err := client.Dial(addr)
	require.NoError(t, err)

	_, err = openSession(c, config.MailboxConfig{Username: "username", Password: "wrong"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login")
}

func TestIMAPSessionRejectsUnknownFolder(t *testing.T) {
	addr := startIMAP(t)
	c, err := client.Dial(addr)
	require.NoError(t, err)

	_, err = openSession(c, config.MailboxConfig{Username: "username", Password: "password", Folder: "Missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "select Missing")
}

func TestIMAPDialerRequiresCredentials(t *testing.T) {
	_, err := IMAPDialer(config.MailboxConfig{Address: "127.0.0.1:1"}, time.Second)(context.Background())
	assert.Error(t, err)
}
