package export

import (
	"bytes"
	"context"
	"crypto/tls"
	"embed"
	"encoding/base64"
	"errors"
	"fmt"
	"html/template"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"faceattend/internal/attendance"
	"faceattend/internal/logger"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	maxRetries  = 3
	smtpTimeout = 30 * time.Second
	// smtpsPort speaks TLS from the first byte instead of upgrading with STARTTLS.
	smtpsPort = 465
)

// ErrNoRecipients is returned when a notification has nowhere to go.
var ErrNoRecipients = errors.New("no notification recipients configured")

// Summary is what a notification reports about one export.
type Summary struct {
	Date       string
	Report     attendance.Report
	Submission SubmissionResult
	CSVPath    string
	Location   *time.Location
	Generated  time.Time
}

// Subject is the notification title.
func (s Summary) Subject() string {
	return fmt.Sprintf("Attendance %s: %d present, %d absent", s.Date, s.Report.PresentCount, s.Report.AbsentCount)
}

// Notifier delivers an export summary.
type Notifier interface {
	Notify(ctx context.Context, s Summary) error
}

// LogNotifier writes the summary to the log.
type LogNotifier struct {
	Log logger.Logger
}

func (n LogNotifier) Notify(ctx context.Context, s Summary) error {
	n.Log.Info(ctx, s.Subject(),
		logger.String("date", s.Date),
		logger.Int("present", s.Report.PresentCount),
		logger.Int("absent", s.Report.AbsentCount),
		logger.Int("submitted", len(s.Submission.Succeeded)),
		logger.Int("failed", len(s.Submission.Failed)),
		logger.String("absentees", strings.Join(s.Report.Absent, ", ")),
		logger.String("csv", s.CSVPath))
	return nil
}

// SMTPConfig holds the mail transport settings.
type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	Recipients []string
	// Timeout bounds one delivery attempt, dial included. Zero means 30s.
	Timeout time.Duration
}

// SendFunc delivers one message. It must return once ctx is done.
type SendFunc func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier mails an HTML summary with the CSV sheet attached. With no
// host configured it only logs what it would have sent.
type SMTPNotifier struct {
	cfg       SMTPConfig
	templates *template.Template
	log       logger.Logger
	send      SendFunc
	backoff   time.Duration
}

// NewSMTPNotifier parses the embedded templates.
func NewSMTPNotifier(cfg SMTPConfig, log logger.Logger) (*SMTPNotifier, error) {
	tmpl, err := template.New("").Funcs(template.FuncMap{"join": strings.Join}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse email templates: %w", err)
	}
	n := &SMTPNotifier{
		cfg:       cfg,
		templates: tmpl,
		log:       log,
		backoff:   time.Second,
	}
	n.send = n.deliver
	return n, nil
}

// WithSender replaces the transport and the retry backoff.
func (n *SMTPNotifier) WithSender(send SendFunc, backoff time.Duration) *SMTPNotifier {
	n.send = send
	n.backoff = backoff
	return n
}

type reportRowData struct {
	Name     string
	CheckIn  string
	CheckOut string
	Hours    string
	OK       bool
	Ref      string
	Status   string
}

type reportData struct {
	Date        string
	Present     int
	AbsentCount int
	Absent      []string
	Submitted   int
	Total       int
	Rows        []reportRowData
	Generated   string
}

// Render returns the HTML body for s.
func (n *SMTPNotifier) Render(s Summary) (string, error) {
	data := reportData{
		Date:        s.Date,
		Present:     s.Report.PresentCount,
		AbsentCount: s.Report.AbsentCount,
		Absent:      s.Report.Absent,
		Submitted:   len(s.Submission.Succeeded),
		Total:       s.Submission.Total,
		Generated:   FormatTime(&s.Generated, s.Location),
	}
	for i, r := range s.Report.Rows {
		checkIn := r.CheckIn
		row := reportRowData{
			Name:     r.Identity,
			CheckIn:  FormatTime(&checkIn, s.Location),
			CheckOut: FormatTime(r.CheckOut, s.Location),
			Hours:    r.Duration,
			Status:   "not submitted",
		}
		if i < len(s.Submission.Statuses) {
			st := s.Submission.Statuses[i]
			row.OK = st.OK
			row.Ref = st.CorrelationID
			if !st.OK {
				row.Status = st.Err
			}
		}
		data.Rows = append(data.Rows, row)
	}

	var body bytes.Buffer
	if err := n.templates.ExecuteTemplate(&body, "report.html", data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return body.String(), nil
}

func (n *SMTPNotifier) Notify(ctx context.Context, s Summary) error {
	if n.cfg.Host == "" {
		n.log.Warn(ctx, "SMTP not configured, skipping email send",
			logger.String("subject", s.Subject()),
			logger.String("recipients", strings.Join(n.cfg.Recipients, ", ")),
			logger.Int("submitted", len(s.Submission.Succeeded)))
		return nil
	}
	if len(n.cfg.Recipients) == 0 {
		return ErrNoRecipients
	}

	html, err := n.Render(s)
	if err != nil {
		return err
	}
	msg, err := n.compose(s, html)
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		err := n.send(ctx, addr, auth, n.cfg.From, n.cfg.Recipients, msg)
		if err == nil {
			n.log.Info(ctx, "report email sent",
				logger.String("subject", s.Subject()), logger.Int("attempt", attempt))
			return nil
		}
		lastErr = err
		n.log.Error(ctx, "failed to send report email",
			logger.Int("attempt", attempt),
			logger.Int("max_retries", maxRetries),
			logger.Error(err))

		// 1s, 2s, 4s
		if attempt < maxRetries {
			select {
			case <-time.After(n.backoff << (attempt - 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("failed to send email after %d attempts: %w", maxRetries, lastErr)
}

// compose builds a multipart message with the HTML body and the CSV attachment.
func (n *SMTPNotifier) compose(s Summary, html string) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(n.cfg.Recipients, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", s.Subject()))
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mw.Boundary())

	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {`text/html; charset="UTF-8"`},
	})
	if err != nil {
		return nil, err
	}
	if _, err := part.Write([]byte(html)); err != nil {
		return nil, err
	}

	if s.CSVPath != "" {
		data, err := os.ReadFile(s.CSVPath)
		if err != nil {
			return nil, fmt.Errorf("read attachment: %w", err)
		}
		name := filepath.Base(s.CSVPath)
		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {`text/csv; name="` + name + `"`},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition":       {`attachment; filename="` + name + `"`},
		})
		if err != nil {
			return nil, err
		}
		if err := writeBase64Lines(part, data); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeBase64Lines encodes data in 76 character lines.
func writeBase64Lines(w io.Writer, data []byte) error {
	enc := base64.StdEncoding.EncodeToString(data)
	for len(enc) > 76 {
		if _, err := fmt.Fprintf(w, "%s\r\n", enc[:76]); err != nil {
			return err
		}
		enc = enc[76:]
	}
	_, err := fmt.Fprintf(w, "%s\r\n", enc)
	return err
}

// deliver is the default transport. Port 465 dials TLS directly, any other
// port upgrades with STARTTLS when the server offers it. The whole exchange
// shares one deadline so a silent server cannot stall the export.
func (n *SMTPNotifier) deliver(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	timeout := n.cfg.Timeout
	if timeout <= 0 {
		timeout = smtpTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tlsCfg := &tls.Config{ServerName: n.cfg.Host, MinVersion: tls.VersionTLS12}
	dialer := &net.Dialer{}
	var (
		conn net.Conn
		err  error
	)
	if n.cfg.Port == smtpsPort {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsCfg}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c, err := smtp.NewClient(conn, n.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp greeting: %w", err)
	}
	defer c.Close()

	if n.cfg.Port != smtpsPort {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(tlsCfg); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}
	if a != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(a); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}
