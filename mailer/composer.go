package mailer

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"
)

// Kind selects a message template.
type Kind int

const (
	KindVerification Kind = iota + 1
	KindPasswordReset
	KindEmailChange
	KindWelcome
)

func (k Kind) String() string {
	switch k {
	case KindVerification:
		return "verification"
	case KindPasswordReset:
		return "password_reset"
	case KindEmailChange:
		return "email_change"
	case KindWelcome:
		return "welcome"
	default:
		return "unknown"
	}
}

// ErrUnknownKind is returned by Compose for an unregistered Kind.
var ErrUnknownKind = errors.New("mailer: unknown message kind")

// Data carries the per-recipient values a template may use.
type Data struct {
	Name   string
	Email  string
	Token  string
	Expiry time.Duration
}

// Message is a rendered email.
type Message struct {
	Subject string
	Body    string
}

type layout struct {
	subject string
	path    string
	body    *template.Template
}

type view struct {
	AppName      string
	Name         string
	Email        string
	Link         string
	LoginURL     string
	DashboardURL string
	Hours        int
}

// Composer renders messages for one application and frontend.
type Composer struct {
	appName  string
	frontend string
	layouts  map[Kind]layout
}

// NewComposer parses the built-in templates. frontendURL is the base that
// links are joined onto.
func NewComposer(appName, frontendURL string) *Composer {
	c := &Composer{
		appName:  appName,
		frontend: strings.TrimRight(frontendURL, "/"),
		layouts: map[Kind]layout{
			KindVerification: {
				subject: "Verify Your Email Address",
				path:    "/auth/verify-email?token=",
				body:    template.Must(template.New("verification").Parse(verificationBody)),
			},
			KindPasswordReset: {
				subject: "Reset Your Password",
				path:    "/auth/reset-password?token=",
				body:    template.Must(template.New("reset").Parse(resetBody)),
			},
			KindEmailChange: {
				subject: "Verify Your New Email Address",
				path:    "/auth/verify-email-change?token=",
				body:    template.Must(template.New("change").Parse(changeBody)),
			},
			KindWelcome: {
				subject: fmt.Sprintf("Welcome to %s!", appName),
				body:    template.Must(template.New("welcome").Parse(welcomeBody)),
			},
		},
	}
	return c
}

// Link returns the frontend URL a token of kind k is redeemed at.
func (c *Composer) Link(k Kind, token string) string {
	l, ok := c.layouts[k]
	if !ok || l.path == "" {
		return ""
	}
	return c.frontend + l.path + token
}

// Compose renders kind k for d.
func (c *Composer) Compose(k Kind, d Data) (Message, error) {
	l, ok := c.layouts[k]
	if !ok {
		return Message{}, ErrUnknownKind
	}

	name := d.Name
	if name == "" {
		name = "there"
	}
	v := view{
		AppName:      c.appName,
		Name:         name,
		Email:        d.Email,
		LoginURL:     c.frontend + "/auth/login",
		DashboardURL: c.frontend + "/dashboard",
		Hours:        int(d.Expiry / time.Hour),
	}
	if l.path != "" {
		v.Link = c.frontend + l.path + d.Token
	}

	var buf bytes.Buffer
	if err := l.body.Execute(&buf, v); err != nil {
		return Message{}, fmt.Errorf("mailer: render %s: %w", k, err)
	}
	return Message{Subject: l.subject, Body: buf.String()}, nil
}

const verificationBody = `Hello {{.Name}},

Thank you for registering with {{.AppName}}. Please verify your email address by opening the link below:

{{.Link}}

This link will expire in {{.Hours}} hours.

If you did not create an account, you can ignore this email.

The {{.AppName}} Team
`

const resetBody = `Hello {{.Name}},

We received a request to reset your {{.AppName}} password. Open the link below to choose a new one:

{{.Link}}

This link will expire in {{.Hours}} hours.

If you did not request a password reset, you can ignore this email. Your password will not change.

The {{.AppName}} Team
`

const changeBody = `Hello {{.Name}},

A request was made to change the email address on your {{.AppName}} account to {{.Email}}. Confirm the change by opening the link below:

{{.Link}}

This link will expire in {{.Hours}} hours.

If you did not request this change, contact support right away.

The {{.AppName}} Team
`

const welcomeBody = `Hello {{.Name}},

Your email address is verified and your {{.AppName}} account is ready.

Sign in: {{.LoginURL}}
Dashboard: {{.DashboardURL}}

The {{.AppName}} Team
`
