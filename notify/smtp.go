package notify

import (
	"bytes"
	"context"
	htmltemplate "html/template"
	"strconv"
	"strings"
	texttemplate "text/template"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/ovigia/authd"
	"github.com/wneessen/go-mail"
)

const (
	TLSMandatory     = "mandatory"
	TLSOpportunistic = "opportunistic"
	TLSNone          = "none"
)

// Config is the SMTP relay configuration
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	TLS      string
	Timeout  time.Duration
}

// sender is the part of *mail.Client the mailer uses
type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// Mailer delivers verification and reset links over SMTP
type Mailer struct {
	client    sender
	from      string
	appName   string
	templates map[auth.TokenPurpose]Template
	logger    auth.Logger
	now       func() time.Time
}

var _ auth.Notifier = (*Mailer)(nil)

type Option func(*Mailer)

func WithLogger(logger auth.Logger) Option {
	return func(m *Mailer) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithAppName is the product name used in subjects and bodies
func WithAppName(name string) Option {
	return func(m *Mailer) {
		if name != "" {
			m.appName = name
		}
	}
}

// WithTemplate replaces the message template for purpose
func WithTemplate(purpose auth.TokenPurpose, tpl Template) Option {
	return func(m *Mailer) {
		m.templates[purpose] = tpl
	}
}

func withSender(s sender) Option {
	return func(m *Mailer) {
		m.client = s
	}
}

// New builds a Mailer for cfg. No connection is made until the first
// message is sent.
func New(cfg Config, opts ...Option) (*Mailer, error) {
	if cfg.From == "" {
		return nil, goerrors.New("smtp sender address is required", goerrors.CategoryValidation).
			WithTextCode("SMTP_FROM_REQUIRED")
	}

	m := &Mailer{
		from:      cfg.From,
		appName:   "authd",
		templates: DefaultTemplates(),
		logger:    auth.NopLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	if m.client == nil {
		client, err := mail.NewClient(cfg.Host, clientOptions(cfg)...)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid smtp configuration").
				WithMetadata(map[string]any{"host": cfg.Host, "port": cfg.Port})
		}
		m.client = client
	}

	return m, nil
}

func clientOptions(cfg Config) []mail.Option {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	opts := []mail.Option{mail.WithTimeout(timeout)}
	if cfg.Port > 0 {
		opts = append(opts, mail.WithPort(cfg.Port))
	}

	switch strings.ToLower(cfg.TLS) {
	case TLSNone:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	case TLSOpportunistic:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}

	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	return opts
}

// Notify renders the message for n and sends it
func (m *Mailer) Notify(ctx context.Context, n auth.Notification) error {
	msg, err := m.message(n)
	if err != nil {
		return err
	}

	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to send email").
			WithMetadata(map[string]any{"purpose": n.Purpose})
	}

	m.logger.Debug("sent %s email to user %s", n.Purpose, n.User.ID)
	return nil
}

func (m *Mailer) message(n auth.Notification) (*mail.Msg, error) {
	if n.User == nil || n.User.Email == "" {
		return nil, goerrors.New("notification has no recipient", goerrors.CategoryBadInput).
			WithTextCode("NOTIFY_NO_RECIPIENT")
	}

	tpl, ok := m.templates[n.Purpose]
	if !ok {
		return nil, goerrors.New("no email template for purpose", goerrors.CategoryInternal).
			WithMetadata(map[string]any{"purpose": n.Purpose})
	}

	rendered, err := tpl.Render(m.data(n))
	if err != nil {
		return nil, err
	}

	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid sender address")
	}
	if err := msg.To(n.User.Email); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid recipient address")
	}
	msg.Subject(rendered.Subject)
	msg.SetDate()
	msg.SetBodyString(mail.TypeTextPlain, rendered.Text)
	if rendered.HTML != "" {
		msg.AddAlternativeString(mail.TypeTextHTML, rendered.HTML)
	}

	return msg, nil
}

// Data is what templates render against
type Data struct {
	AppName   string
	Name      string
	Email     string
	Link      string
	Token     string
	ExpiresIn string
}

func (m *Mailer) data(n auth.Notification) Data {
	name := n.User.FullName
	if name == "" {
		name = n.User.Email
	}

	expiresIn := ""
	if !n.ExpiresAt.IsZero() {
		expiresIn = humanDuration(n.ExpiresAt.Sub(m.now()))
	}

	return Data{
		AppName:   m.appName,
		Name:      name,
		Email:     n.User.Email,
		Link:      n.Link,
		Token:     n.Token,
		ExpiresIn: expiresIn,
	}
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= 2*time.Hour:
		return strconv.Itoa(int(d.Round(time.Hour)/time.Hour)) + " hours"
	case d >= time.Hour:
		return "1 hour"
	case d >= 2*time.Minute:
		return strconv.Itoa(int(d.Round(time.Minute)/time.Minute)) + " minutes"
	default:
		return "a few minutes"
	}
}

// Template is one email: a subject line, a plain text body and an
// optional HTML alternative
type Template struct {
	Subject string
	Text    string
	HTML    string
}

// Rendered is a Template after execution
type Rendered struct {
	Subject string
	Text    string
	HTML    string
}

// Render executes the template. Text parts use text/template, the HTML
// part uses html/template so user supplied names are escaped.
func (t Template) Render(data Data) (Rendered, error) {
	var out Rendered
	var err error

	if out.Subject, err = renderText("subject", t.Subject, data); err != nil {
		return out, err
	}
	if out.Text, err = renderText("text", t.Text, data); err != nil {
		return out, err
	}
	if t.HTML == "" {
		return out, nil
	}

	tpl, err := htmltemplate.New("html").Parse(t.HTML)
	if err != nil {
		return out, goerrors.Wrap(err, goerrors.CategoryInternal, "invalid html email template")
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return out, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to render html email")
	}
	out.HTML = buf.String()

	return out, nil
}

func renderText(name, src string, data Data) (string, error) {
	tpl, err := texttemplate.New(name).Parse(src)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "invalid email template").
			WithMetadata(map[string]any{"part": name})
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to render email").
			WithMetadata(map[string]any{"part": name})
	}
	return strings.TrimSpace(buf.String()), nil
}
