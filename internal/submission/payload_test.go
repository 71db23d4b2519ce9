package submission

import (
	"bytes"
	"mime/multipart"
	"strings"
	"testing"
	"time"

	"github.com/devrev/sheetforms/internal/schema"
	"github.com/devrev/sheetforms/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_JSON(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		want        Payload
		wrapped     bool
	}{
		{
			name:        "flat object",
			contentType: "application/json",
			body:        `{"project_key":"acme","cf-turnstile-response":"tok","Name":"Ada"}`,
			want:        Payload{"project_key": "acme", "cf-turnstile-response": "tok", "Name": "Ada"},
		},
		{
			name:        "absent content type is JSON",
			contentType: "",
			body:        `{"project_key":"acme"}`,
			want:        Payload{"project_key": "acme"},
		},
		{
			name:        "unknown content type is JSON",
			contentType: "text/plain; charset=utf-8",
			body:        `{"project_key":"acme"}`,
			want:        Payload{"project_key": "acme"},
		},
		{
			name:        "non-string values",
			contentType: "application/json",
			body:        `{"Age":42,"Ratio":1.50,"Agree":true,"Tags":["a","b",3],"Note":null,"Meta":{"k":"v"}}`,
			want: Payload{
				"Age":   "42",
				"Ratio": "1.50",
				"Agree": "true",
				"Tags":  "a, b, 3",
				"Note":  "",
				"Meta":  `{"k":"v"}`,
			},
		},
		{
			name:        "wrapped under data",
			contentType: "application/json",
			body:        `{"data":{"project_key":"acme","Name":"Ada"}}`,
			want:        Payload{"project_key": "acme", "Name": "Ada"},
			wrapped:     true,
		},
		{
			name:        "wrapped with outer keys filling gaps",
			contentType: "application/json",
			body:        `{"project_key":"acme","cf-turnstile-response":"tok","data":{"project_key":"acme","Name":"Ada"}}`,
			want:        Payload{"project_key": "acme", "cf-turnstile-response": "tok", "Name": "Ada"},
			wrapped:     true,
		},
		{
			name:        "flat body with a data field",
			contentType: "application/json",
			body:        `{"project_key":"acme","data":{"x":1}}`,
			want:        Payload{"project_key": "acme", "data": `{"x":1}`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.contentType, strings.NewReader(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Payload)
			assert.Equal(t, tt.wrapped, got.Wrapped)
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	bodies := map[string]string{
		"empty":      "",
		"whitespace": "  \n",
		"truncated":  `{"project_key":`,
		"array":      `[1,2]`,
		"null":       `null`,
		"string":     `"hello"`,
		"trailing":   `{"project_key":"acme"} garbage`,
		"two values": `{"project_key":"acme"}{"project_key":"globex"}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			_, err := Parse("application/json", strings.NewReader(body))
			require.ErrorIs(t, err, ErrBadRequest)

			var se *StepError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, StepParse, se.Step)
		})
	}
}

func TestParse_URLEncoded(t *testing.T) {
	body := "project_key=acme&cf-turnstile-response=tok&Name=Ada+Lovelace&Topics=a&Topics=b"
	got, err := Parse("application/x-www-form-urlencoded; charset=UTF-8", strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, Payload{
		"project_key":           "acme",
		"cf-turnstile-response": "tok",
		"Name":                  "Ada Lovelace",
		"Topics":                "a, b",
	}, got.Payload)
	assert.False(t, got.Wrapped)

	_, err = Parse("application/x-www-form-urlencoded", strings.NewReader("a=%zz"))
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestParse_Multipart(t *testing.T) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("project_key", "acme"))
	require.NoError(t, w.WriteField("Name", "Ada"))
	fw, err := w.CreateFormFile("Resume", "cv.pdf")
	require.NoError(t, err)
	fw.Write([]byte("%PDF"))
	require.NoError(t, w.Close())

	got, err := Parse(w.FormDataContentType(), &buf)
	require.NoError(t, err)
	assert.Equal(t, Payload{"project_key": "acme", "Name": "Ada"}, got.Payload)

	_, err = Parse("multipart/form-data", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestPayload_Lookup(t *testing.T) {
	p := Payload{"Name": "Ada", "email": "ada@x.com", "PHONE": "1", "phone": "2"}

	v, ok := p.Lookup("Name")
	assert.True(t, ok)
	assert.Equal(t, "Ada", v)

	v, ok = p.Lookup("Email")
	assert.True(t, ok)
	assert.Equal(t, "ada@x.com", v)

	// Ambiguous case-insensitive matches are not guessed.
	_, ok = p.Lookup("Phone")
	assert.False(t, ok)

	_, ok = p.Lookup("Message")
	assert.False(t, ok)
}

func TestBuildRow(t *testing.T) {
	fields := []schema.FieldDescriptor{
		{Name: "Name"},
		{Name: "Date"},
		{Name: "Email"},
		{Name: "Message"},
	}
	at := time.Date(2026, 1, 2, 3, 4, 5, 6_000_000, time.FixedZone("CET", 3600))

	row := BuildRow(fields, Payload{"Name": "Ada", "Date": "forged", "Extra": "dropped"}, at)

	assert.Equal(t, storage.Row{
		{Column: "Date", Value: "2026-01-02T02:04:05.006Z"},
		{Column: "Name", Value: "Ada"},
		{Column: "Email", Value: ""},
		{Column: "Message", Value: ""},
	}, row)
}

func TestBuildRow_OrderMatchesSchema(t *testing.T) {
	fields := []schema.FieldDescriptor{{Name: "Z"}, {Name: "A"}, {Name: "M"}}
	row := BuildRow(fields, Payload{"A": "1", "M": "2", "Z": "3"}, time.Unix(0, 0))

	assert.Equal(t, []string{TimestampColumn, "Z", "A", "M"}, row.Columns())
}
