package submission

import (
	"strings"
	"testing"
	"time"

	"github.com/devrev/sheetforms/internal/schema"
	"github.com/devrev/sheetforms/internal/tenant"
	"github.com/stretchr/testify/assert"
)

func TestSubject(t *testing.T) {
	tests := []struct {
		name   string
		fields []string
		values Payload
		want   string
	}{
		{"name field", []string{"Name", "Email"}, Payload{"Name": "Ada"}, "New Lead: Ada"},
		{"full name variant", []string{"Email", "Full Name"}, Payload{"Full Name": "Ada L"}, "New Lead: Ada L"},
		{"snake case variant", []string{"your_name"}, Payload{"your_name": "Ada"}, "New Lead: Ada"},
		{"first non-empty wins", []string{"Name", "Contact-Name"}, Payload{"Contact-Name": "Bob"}, "New Lead: Bob"},
		{"no name field", []string{"Email"}, Payload{"Email": "ada@x.com"}, "New submission (acme)"},
		{"name field empty", []string{"Name"}, Payload{"Name": "  "}, "New submission (acme)"},
		{"username is not a name", []string{"Username"}, Payload{"Username": "ada"}, "New submission (acme)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := descriptors(tt.fields...)
			row := BuildRow(fields, tt.values, time.Unix(0, 0))
			assert.Equal(t, tt.want, Subject("acme", fields, row))
		})
	}
}

func TestRecipients(t *testing.T) {
	assert.Equal(t, []string{"a@x.test", "b@x.test"}, Recipients(" a@x.test, ,b@x.test "))
	assert.Nil(t, Recipients(""))
}

func TestCompose(t *testing.T) {
	fields := []schema.FieldDescriptor{
		{Name: "Name", Label: "Your name"},
		{Name: "E-mail", Label: "E-mail"},
		{Name: "Message", Label: "Message"},
	}
	row := BuildRow(fields, Payload{"Name": "Ada <b>", "E-mail": "ada@x.com"}, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	msg := Compose(tenant.Config{Key: "acme", EmailTo: "ops@acme.test"}, "Forms <f@x.test>", fields, row)

	assert.Equal(t, "Forms <f@x.test>", msg.From)
	assert.Equal(t, []string{"ops@acme.test"}, msg.To)
	assert.Equal(t, "ada@x.com", msg.ReplyTo)
	assert.Equal(t, "New Lead: Ada <b>", msg.Subject)

	assert.Contains(t, msg.HTML, "<p><strong>Your name:</strong> Ada &lt;b&gt;</p>")
	assert.Contains(t, msg.HTML, "<p><strong>Message:</strong> </p>")
	assert.NotContains(t, msg.HTML, "<b>")

	// Body order follows the schema.
	lines := strings.Split(strings.TrimSpace(msg.Text), "\n")
	assert.Equal(t, "Your name: Ada <b>", lines[0])
	assert.Equal(t, "E-mail: ada@x.com", lines[1])
	assert.Equal(t, "Message: ", lines[2])
	assert.Equal(t, "Date: 2026-01-01T00:00:00.000Z", lines[len(lines)-1])
}

func TestCompose_ProjectSender(t *testing.T) {
	fields := descriptors("Name")
	row := BuildRow(fields, Payload{}, time.Unix(0, 0))

	msg := Compose(tenant.Config{Key: "acme", EmailTo: "ops@acme.test", EmailFrom: "Acme <forms@acme.test>"}, "default", fields, row)
	assert.Equal(t, "Acme <forms@acme.test>", msg.From)
	assert.Empty(t, msg.ReplyTo)
}

func descriptors(names ...string) []schema.FieldDescriptor {
	out := make([]schema.FieldDescriptor, len(names))
	for i, n := range names {
		out[i] = schema.FieldDescriptor{Name: n, Kind: schema.DefaultKind, Label: n}
	}
	return out
}
