package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lutraconsulting/gdbsync/pkg/config"
)

func testNotifier() *Notifier {
	return New(config.Notification{
		SMTPServer:      "smtp.example.com",
		EmailSender:     "dbsync@example.com",
		EmailSubject:    "dbsync failure",
		EmailRecipients: []string{"ops@example.com"},
	})
}

func TestShouldSendFirstTimeAlwaysTrue(t *testing.T) {
	n := testNotifier()
	assert.True(t, n.shouldSend())
}

func TestShouldSendSuppressedWithinInterval(t *testing.T) {
	n := testNotifier()
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return start }
	sent := start
	n.last = &sent

	n.now = func() time.Time { return start.Add(1 * time.Hour) }
	assert.False(t, n.shouldSend())

	n.now = func() time.Time { return start.Add(5 * time.Hour) }
	assert.True(t, n.shouldSend())
}

func TestShouldSendRespectsCustomInterval(t *testing.T) {
	n := testNotifier()
	n.cfg.MinimalEmailInterval = 0.5 // 30 minutes
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sent := start
	n.last = &sent

	n.now = func() time.Time { return start.Add(20 * time.Minute) }
	assert.False(t, n.shouldSend())

	n.now = func() time.Time { return start.Add(40 * time.Minute) }
	assert.True(t, n.shouldSend())
}

func TestFormatMessageIncludesHeaders(t *testing.T) {
	n := testNotifier()
	msg := n.formatMessage("something broke")
	assert.Contains(t, msg, "Subject: dbsync failure")
	assert.Contains(t, msg, "To: ops@example.com")
	assert.Contains(t, msg, "something broke")
}

func TestSMTPPortDefaults(t *testing.T) {
	n := testNotifier()
	assert.Equal(t, 25, n.smtpPort())
	n.cfg.UseSSL = true
	assert.Equal(t, 465, n.smtpPort())
	n.cfg.SMTPPort = 2525
	assert.Equal(t, 2525, n.smtpPort())
}
