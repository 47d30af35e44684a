package notifications

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

type emailData struct {
	SubjectName     string
	CourseName      string
	InstituteName   string
	CertificateID   string
	Fingerprint     string
	LedgerReference string
	DocumentURL     string
	VerificationURL string
	IssuedAt        string
	Reason          string
	RevokedBy       string
	OccurredAt      string
}

var templates = template.Must(template.New("emails").Parse(`
{{define "certificate_issued"}}<html><body style="font-family:Arial,sans-serif">
<h2>Congratulations, {{.SubjectName}}!</h2>
<p>Your certificate for <strong>{{.CourseName}}</strong> has been issued by {{.InstituteName}}.</p>
<table>
<tr><td>Certificate ID</td><td>{{.CertificateID}}</td></tr>
<tr><td>Issued</td><td>{{.IssuedAt}}</td></tr>
<tr><td>Fingerprint</td><td><code>{{.Fingerprint}}</code></td></tr>
{{if .LedgerReference}}<tr><td>Ledger reference</td><td><code>{{.LedgerReference}}</code></td></tr>{{end}}
</table>
<p>The certificate is attached to this email.{{if .DocumentURL}} A copy is also available at <a href="{{.DocumentURL}}">{{.DocumentURL}}</a>.{{end}}</p>
{{if .VerificationURL}}<p>Anyone can verify it at <a href="{{.VerificationURL}}">{{.VerificationURL}}</a>.</p>{{end}}
</body></html>{{end}}
{{define "certificate_reminder"}}<html><body style="font-family:Arial,sans-serif">
<p>Hello {{.SubjectName}},</p>
<p>As requested, here is another copy of your certificate <strong>{{.CertificateID}}</strong> for {{.CourseName}}, issued on {{.IssuedAt}}.</p>
{{if .DocumentURL}}<p>It is also available at <a href="{{.DocumentURL}}">{{.DocumentURL}}</a>.</p>{{end}}
{{if .VerificationURL}}<p>Verify it at <a href="{{.VerificationURL}}">{{.VerificationURL}}</a>.</p>{{end}}
</body></html>{{end}}
{{define "verification_notification"}}<html><body style="font-family:Arial,sans-serif">
<p>Hello {{.SubjectName}},</p>
<p>Your certificate <strong>{{.CertificateID}}</strong> for {{.CourseName}} was verified on {{.OccurredAt}}.</p>
</body></html>{{end}}
{{define "revocation_notification"}}<html><body style="font-family:Arial,sans-serif">
<p>Hello {{.SubjectName}},</p>
<p>Your certificate <strong>{{.CertificateID}}</strong> for {{.CourseName}} was revoked on {{.OccurredAt}} by {{.RevokedBy}}.</p>
<p>Reason: {{.Reason}}</p>
</body></html>{{end}}
`))

func render(name string, data emailData) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s email: %w", name, err)
	}
	return buf.String(), nil
}

func formatDate(t time.Time) string {
	return t.UTC().Format("02 January 2006")
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format("02 Jan 2006 15:04 MST")
}
