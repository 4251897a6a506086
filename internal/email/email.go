package email

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"gopkg.in/mail.v2"

	"shaluqa.app/crm/internal/logger"
)

const (
	expirySubject  = "Acción Requerida: Su licencia vence pronto"
	welcomeSubject = "¡Bienvenido a Shaluqa CRM!"

	// noticeLeadDays is the "(En N días)" shown in expiry notices.
	noticeLeadDays = 7
)

//go:embed templates/*.html
var templateFS embed.FS

var (
	expiryTemplate  = template.Must(template.ParseFS(templateFS, "templates/layout.html", "templates/expiry.html"))
	welcomeTemplate = template.Must(template.ParseFS(templateFS, "templates/layout.html", "templates/welcome.html"))
)

// Dialer delivers messages. *mail.Dialer satisfies it.
type Dialer interface {
	DialAndSend(m ...*mail.Message) error
}

type Config struct {
	Host         string
	Port         int
	Username     string
	Password     string
	From         string
	AppURL       string
	SupportEmail string
}

// SMTPSender renders the CRM's transactional emails and sends them over SMTP.
type SMTPSender struct {
	dialer       Dialer
	from         string
	appURL       string
	supportEmail string
	now          func() time.Time
}

func NewSMTPSender(cfg Config) (*SMTPSender, error) {
	if cfg.Host == "" || cfg.Port == 0 || cfg.Username == "" || cfg.Password == "" {
		logger.Error("SMTP configuration missing")
		return nil, fmt.Errorf("SMTP configuration missing")
	}

	dialer := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	dialer.Timeout = 15 * time.Second

	return NewSender(dialer, cfg), nil
}

// NewSender builds a sender on top of an arbitrary dialer.
func NewSender(dialer Dialer, cfg Config) *SMTPSender {
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}

	return &SMTPSender{
		dialer:       dialer,
		from:         from,
		appURL:       strings.TrimSuffix(cfg.AppURL, "/"),
		supportEmail: cfg.SupportEmail,
		now:          time.Now,
	}
}

type expiryData struct {
	ClientName  string
	ProductName string
	ExpiryDate  string
	LeadDays    int
	SupportURL  template.URL
	Year        int
}

type welcomeData struct {
	Name     string
	LoginURL string
	Year     int
}

// SendLicenseExpiry emails a renewal notice. expiryDate is already formatted
// for display.
func (s *SMTPSender) SendLicenseExpiry(ctx context.Context, to, clientName, productName, expiryDate string) error {
	html, text, err := s.renderExpiry(clientName, productName, expiryDate)
	if err != nil {
		return err
	}

	logger.Debug("Sending expiry email", map[string]interface{}{
		"to": to,
	})
	return s.send(ctx, to, expirySubject, html, text)
}

func (s *SMTPSender) SendWelcome(ctx context.Context, to, userName string) error {
	html, text, err := s.renderWelcome(userName)
	if err != nil {
		return err
	}

	logger.Debug("Sending welcome email", map[string]interface{}{
		"to": to,
	})
	return s.send(ctx, to, welcomeSubject, html, text)
}

func (s *SMTPSender) renderExpiry(clientName, productName, expiryDate string) (string, string, error) {
	data := expiryData{
		ClientName:  clientName,
		ProductName: productName,
		ExpiryDate:  expiryDate,
		LeadDays:    noticeLeadDays,
		SupportURL:  template.URL("mailto:" + s.supportEmail),
		Year:        s.now().Year(),
	}

	var buf bytes.Buffer
	if err := expiryTemplate.ExecuteTemplate(&buf, "layout", data); err != nil {
		return "", "", fmt.Errorf("failed to render expiry email: %w", err)
	}

	text := fmt.Sprintf("Aviso de Vencimiento\n\n"+
		"Hola %s,\n\n"+
		"Te escribimos para informarte que tu licencia para el producto %s está próxima a vencer.\n\n"+
		"Fecha de vencimiento: %s (En %d días)\n\n"+
		"Tu licencia está configurada para renovarse automáticamente. Si deseas realizar cambios o cancelar, "+
		"por favor contáctanos antes de la fecha de vencimiento: %s\n",
		clientName, productName, expiryDate, noticeLeadDays, s.supportEmail)

	return buf.String(), text, nil
}

func (s *SMTPSender) renderWelcome(userName string) (string, string, error) {
	data := welcomeData{
		Name:     userName,
		LoginURL: s.appURL + "/login",
		Year:     s.now().Year(),
	}

	var buf bytes.Buffer
	if err := welcomeTemplate.ExecuteTemplate(&buf, "layout", data); err != nil {
		return "", "", fmt.Errorf("failed to render welcome email: %w", err)
	}

	text := fmt.Sprintf("¡Bienvenido, %s!\n\n"+
		"Tu cuenta de Shaluqa CRM ha sido creada exitosamente.\n\n"+
		"Accede al dashboard: %s\n", userName, data.LoginURL)

	return buf.String(), text, nil
}

func (s *SMTPSender) send(ctx context.Context, to, subject, html, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := mail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", text)
	m.AddAlternative("text/html", html)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}
	return nil
}
