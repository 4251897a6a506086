package email

import (
	"context"
	"errors"
	"mime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/mail.v2"
)

type recordingDialer struct {
	messages []*mail.Message
	err      error
}

func (d *recordingDialer) DialAndSend(m ...*mail.Message) error {
	if d.err != nil {
		return d.err
	}
	d.messages = append(d.messages, m...)
	return nil
}

// subject decodes the RFC 2047 encoded Subject header of m.
func subject(t *testing.T, m *mail.Message) string {
	t.Helper()

	raw := m.GetHeader("Subject")
	require.Len(t, raw, 1)
	decoded, err := new(mime.WordDecoder).DecodeHeader(raw[0])
	require.NoError(t, err)
	return decoded
}

func testConfig() Config {
	return Config{
		Host:         "smtp.example.com",
		Port:         587,
		Username:     "user@example.com",
		Password:     "password",
		From:         "Shaluqa CRM <notifications@shaluqa.com>",
		AppURL:       "https://shaluqa-crm.com/",
		SupportEmail: "soporte@shaluqa.com",
	}
}

func newTestSender(d Dialer) *SMTPSender {
	s := NewSender(d, testConfig())
	s.now = func() time.Time { return time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC) }
	return s
}

func TestNewSMTPSender(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		expectError bool
	}{
		{name: "valid", modify: func(c *Config) {}},
		{name: "missing host", modify: func(c *Config) { c.Host = "" }, expectError: true},
		{name: "missing port", modify: func(c *Config) { c.Port = 0 }, expectError: true},
		{name: "missing username", modify: func(c *Config) { c.Username = "" }, expectError: true},
		{name: "missing password", modify: func(c *Config) { c.Password = "" }, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.modify(&cfg)

			sender, err := NewSMTPSender(cfg)
			if tt.expectError {
				require.Error(t, err)
				assert.Equal(t, "SMTP configuration missing", err.Error())
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, sender)
		})
	}
}

func TestSendLicenseExpiry(t *testing.T) {
	d := &recordingDialer{}
	s := newTestSender(d)

	err := s.SendLicenseExpiry(context.Background(), "ana@example.com", "Ana García", "TPV", "10/6/2025")
	require.NoError(t, err)

	require.Len(t, d.messages, 1)
	m := d.messages[0]
	assert.Equal(t, []string{"ana@example.com"}, m.GetHeader("To"))
	assert.Equal(t, []string{"Shaluqa CRM <notifications@shaluqa.com>"}, m.GetHeader("From"))
	assert.Equal(t, "Acción Requerida: Su licencia vence pronto", subject(t, m))
	assert.Equal(t, []string{mime.QEncoding.Encode("UTF-8", "Acción Requerida: Su licencia vence pronto")}, m.GetHeader("Subject"))
}

func TestRenderExpiry(t *testing.T) {
	s := newTestSender(&recordingDialer{})

	html, text, err := s.renderExpiry("Ana <script>", "TPV", "10/6/2025")
	require.NoError(t, err)

	assert.Contains(t, html, "Aviso de Vencimiento")
	assert.Contains(t, html, "Fecha de vencimiento: 10/6/2025")
	assert.Contains(t, html, "(En 7 días)")
	assert.Contains(t, html, `href="mailto:soporte@shaluqa.com"`)
	assert.Contains(t, html, "© 2025 Shaluqa CRM")
	assert.Contains(t, html, "Ana &lt;script&gt;")
	assert.NotContains(t, html, "<script>")

	assert.Contains(t, text, "Hola Ana <script>,")
	assert.Contains(t, text, "Fecha de vencimiento: 10/6/2025 (En 7 días)")
}

func TestRenderWelcome(t *testing.T) {
	s := newTestSender(&recordingDialer{})

	html, text, err := s.renderWelcome("Marta")
	require.NoError(t, err)

	assert.Contains(t, html, "¡Bienvenido, Marta!")
	assert.Contains(t, html, `href="https://shaluqa-crm.com/login"`)
	assert.Contains(t, html, "por favor no respondas")
	assert.True(t, strings.HasPrefix(text, "¡Bienvenido, Marta!"))
}

func TestSendWelcome(t *testing.T) {
	d := &recordingDialer{}
	s := newTestSender(d)

	require.NoError(t, s.SendWelcome(context.Background(), "marta@example.com", "Marta"))
	require.Len(t, d.messages, 1)
	assert.Equal(t, "¡Bienvenido a Shaluqa CRM!", subject(t, d.messages[0]))
}

func TestSend_DialerError(t *testing.T) {
	s := newTestSender(&recordingDialer{err: errors.New("535 authentication failed")})

	err := s.SendLicenseExpiry(context.Background(), "ana@example.com", "Ana", "TPV", "10/6/2025")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ana@example.com")
	assert.Contains(t, err.Error(), "535 authentication failed")
}

func TestSend_CanceledContext(t *testing.T) {
	d := &recordingDialer{}
	s := newTestSender(d)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.SendLicenseExpiry(ctx, "ana@example.com", "Ana", "TPV", "10/6/2025")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, d.messages)
}
