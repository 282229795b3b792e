// Package notify sends the one operator-facing email a failed sync cycle
// warrants, porting smtp_functions.py's connect/send/suppress trio onto the
// standard library's net/smtp (no third-party SMTP client appears anywhere
// in the retrieval pack; see DESIGN.md).
package notify

import (
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lutraconsulting/gdbsync/pkg/config"
	"github.com/lutraconsulting/gdbsync/pkg/syncerr"
)

// defaultMinimalInterval mirrors should_send_another_email's hardcoded
// fallback of 4 hours when minimal_email_interval is not set.
const defaultMinimalInterval = 4 * time.Hour

// Notifier sends at most one email per minimalInterval, porting
// should_send_another_email's storm suppression.
type Notifier struct {
	cfg  config.Notification
	now  func() time.Time
	mu   sync.Mutex
	last *time.Time
}

// New builds a Notifier from the validated notification config block.
func New(cfg config.Notification) *Notifier {
	return &Notifier{cfg: cfg, now: time.Now}
}

func (n *Notifier) minimalInterval() time.Duration {
	if n.cfg.MinimalEmailInterval > 0 {
		return time.Duration(n.cfg.MinimalEmailInterval * float64(time.Hour))
	}
	return defaultMinimalInterval
}

// shouldSend reports whether enough time has passed since the last email,
// porting should_send_another_email exactly (no last email ever sent
// always sends).
func (n *Notifier) shouldSend() bool {
	if n.last == nil {
		return true
	}
	return n.now().Sub(*n.last) > n.minimalInterval()
}

// NotifyFailure sends an email reporting cause, suppressed if one was
// already sent within the configured interval. It never returns an error
// for the "suppressed" case; a genuine SMTP failure is still reported so
// the orchestrator can log it (the original silently lets the exception
// propagate up out of send_email too).
func (n *Notifier) NotifyFailure(cause string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.shouldSend() {
		return nil
	}
	now := n.now()
	body := fmt.Sprintf("%s: %s", now.Format("02/01/2006 15:04:05"), cause)
	if err := n.send(body); err != nil {
		return err
	}
	n.last = &now
	return nil
}

// SendTest sends an immediate test notification bypassing the interval
// suppression entirely, for --test-notification-email.
func (n *Notifier) SendTest() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.now()
	body := fmt.Sprintf("%s: this is a test notification email from dbsync", now.Format("02/01/2006 15:04:05"))
	return n.send(body)
}

func (n *Notifier) send(body string) error {
	client, err := n.dial()
	if err != nil {
		return syncerr.WrapRemote(err, "connecting to smtp server %s", n.cfg.SMTPServer)
	}
	defer client.Close()

	if n.cfg.UseTLS {
		tlsCfg := &tls.Config{ServerName: n.cfg.SMTPServer}
		if err := client.StartTLS(tlsCfg); err != nil {
			return syncerr.WrapRemote(err, "starting tls with smtp server %s", n.cfg.SMTPServer)
		}
	}
	if n.cfg.SMTPUsername != "" && n.cfg.SMTPPassword != "" {
		auth := smtp.PlainAuth("", n.cfg.SMTPUsername, n.cfg.SMTPPassword, n.cfg.SMTPServer)
		if err := client.Auth(auth); err != nil {
			return syncerr.WrapRemote(err, "authenticating with smtp server %s", n.cfg.SMTPServer)
		}
	}

	sender := n.cfg.EmailSender
	if n.cfg.SMTPUsername != "" {
		sender = n.cfg.SMTPUsername
	}
	if err := client.Mail(sender); err != nil {
		return syncerr.WrapRemote(err, "setting sender")
	}
	for _, rcpt := range n.cfg.EmailRecipients {
		if err := client.Rcpt(rcpt); err != nil {
			return syncerr.WrapRemote(err, "setting recipient %s", rcpt)
		}
	}

	w, err := client.Data()
	if err != nil {
		return syncerr.WrapRemote(err, "opening smtp data stream")
	}
	message := n.formatMessage(body)
	if _, err := w.Write([]byte(message)); err != nil {
		w.Close()
		return syncerr.WrapRemote(err, "writing email body")
	}
	if err := w.Close(); err != nil {
		return syncerr.WrapRemote(err, "closing smtp data stream")
	}
	return client.Quit()
}

func (n *Notifier) formatMessage(body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s\r\n", n.cfg.EmailSubject)
	fmt.Fprintf(&b, "From: %s\r\n", n.cfg.EmailSender)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(n.cfg.EmailRecipients, ", "))
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return b.String()
}

// dial opens the SMTP connection, porting create_connection_and_log_user's
// SSL/plain branch (STARTTLS is handled separately by send, matching the
// original calling host.starttls() after connecting either way).
func (n *Notifier) dial() (*smtp.Client, error) {
	addr := n.cfg.SMTPServer + ":" + strconv.Itoa(n.smtpPort())
	if n.cfg.UseSSL {
		conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: n.cfg.SMTPServer})
		if err != nil {
			return nil, err
		}
		return smtp.NewClient(conn, n.cfg.SMTPServer)
	}
	return smtp.Dial(addr)
}

func (n *Notifier) smtpPort() int {
	if n.cfg.SMTPPort != 0 {
		return n.cfg.SMTPPort
	}
	if n.cfg.UseSSL {
		return 465
	}
	return 25
}
