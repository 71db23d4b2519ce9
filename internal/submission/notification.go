package submission

import (
	"fmt"
	"html"
	"strings"

	"github.com/devrev/sheetforms/internal/notify"
	"github.com/devrev/sheetforms/internal/schema"
	"github.com/devrev/sheetforms/internal/storage"
	"github.com/devrev/sheetforms/internal/tenant"
)

// nameFields are normalized field names whose value titles the notification.
var nameFields = map[string]struct{}{
	"name":        {},
	"fullname":    {},
	"yourname":    {},
	"contactname": {},
}

var emailFields = map[string]struct{}{
	"email": {},
}

// normalizeName lowercases and drops separators so "Full Name", "full_name"
// and "FullName" compare equal.
func normalizeName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch r {
		case ' ', '_', '-', '.':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Subject returns "New Lead: <name>" using the first name-like schema field
// with a value, or a generic subject naming the project.
func Subject(projectKey string, fields []schema.FieldDescriptor, row storage.Row) string {
	if v := firstValue(fields, row, nameFields); v != "" {
		return "New Lead: " + v
	}
	return fmt.Sprintf("New submission (%s)", projectKey)
}

// ReplyTo returns the value of the first email-like schema field.
func ReplyTo(fields []schema.FieldDescriptor, row storage.Row) string {
	return firstValue(fields, row, emailFields)
}

func firstValue(fields []schema.FieldDescriptor, row storage.Row, names map[string]struct{}) string {
	for _, f := range fields {
		if _, ok := names[normalizeName(f.Name)]; !ok {
			continue
		}
		if v := strings.TrimSpace(row.Get(f.Name)); v != "" {
			return v
		}
	}
	return ""
}

// Recipients splits a configured recipient list on commas.
func Recipients(emailTo string) []string {
	var to []string
	for _, addr := range strings.Split(emailTo, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			to = append(to, addr)
		}
	}
	return to
}

// Compose builds the notification for a stored row. The body lists every
// schema field with its stored value in schema order.
func Compose(t tenant.Config, defaultFrom string, fields []schema.FieldDescriptor, row storage.Row) notify.Message {
	from := t.EmailFrom
	if from == "" {
		from = defaultFrom
	}

	var htmlBody, textBody strings.Builder
	for _, f := range fields {
		if f.Name == TimestampColumn {
			continue
		}
		v := row.Get(f.Name)
		fmt.Fprintf(&htmlBody, "<p><strong>%s:</strong> %s</p>", html.EscapeString(f.Label), html.EscapeString(v))
		fmt.Fprintf(&textBody, "%s: %s\n", f.Label, v)
	}
	fmt.Fprintf(&htmlBody, "<p><small>%s: %s</small></p>", TimestampColumn, html.EscapeString(row.Get(TimestampColumn)))
	fmt.Fprintf(&textBody, "\n%s: %s\n", TimestampColumn, row.Get(TimestampColumn))

	return notify.Message{
		From:    from,
		To:      Recipients(t.EmailTo),
		ReplyTo: ReplyTo(fields, row),
		Subject: Subject(t.Key, fields, row),
		HTML:    htmlBody.String(),
		Text:    textBody.String(),
	}
}
