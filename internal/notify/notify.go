// Package notify is the outbound mail boundary for account flows. It
// defines the message shape and a Mailer interface; the default
// implementation only logs, which is what development and test environments
// run with.
package notify

import (
	"context"
	"fmt"
	"html/template"

	"go.uber.org/zap"

	"github.com/isometry/persondir/internal/token"
)

// Contact is a mail recipient.
type Contact struct {
	Name  string
	Email string
}

func (c Contact) String() string {
	if c.Name == "" {
		return c.Email
	}
	return fmt.Sprintf("%s <%s>", c.Name, c.Email)
}

// Message is one outbound mail. Both renderings are provided; the transport
// decides which to send.
type Message struct {
	To      Contact
	Subject string
	Text    string
	HTML    string
}

// Mailer delivers messages. Implementations must be safe for concurrent
// use.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer writes messages to the log instead of delivering them.
type LogMailer struct {
	log *zap.Logger
}

// NewLogMailer builds a mailer that logs deliveries. The logger may be nil.
func NewLogMailer(log *zap.Logger) *LogMailer {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogMailer{log: log.Named("mailer")}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.log.Info("outbound mail",
		zap.String("to", msg.To.String()),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Text))
	return nil
}

var confirmationSubjects = map[token.Purpose]string{
	token.PurposeSignUp:        "Confirm your account",
	token.PurposeEmailChange:   "Confirm your new email address",
	token.PurposeResetPassword: "Reset your password",
	token.PurposeReactivate:    "Reactivate your account",
}

// ConfirmationMessage builds the mail carrying a confirmation link for the
// given flow. The confirmURL should already embed the token.
func ConfirmationMessage(to Contact, purpose token.Purpose, confirmURL string) Message {
	subject, ok := confirmationSubjects[purpose]
	if !ok {
		subject = "Confirm your request"
	}
	name := to.Name
	if name == "" {
		name = to.Email
	}
	text := fmt.Sprintf("Hello %s,\n\nPlease follow the link below to continue:\n\n%s\n\nThe link expires in one hour. If you did not request this, ignore this message.\n", name, confirmURL)
	html := fmt.Sprintf("<p>Hello %s,</p><p>Please follow the link below to continue:</p><p><a href=%q>%s</a></p><p>The link expires in one hour. If you did not request this, ignore this message.</p>", template.HTMLEscapeString(name), confirmURL, template.HTMLEscapeString(confirmURL))
	return Message{To: to, Subject: subject, Text: text, HTML: html}
}
