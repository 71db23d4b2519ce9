package submission

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/url"
	"strings"
)

// Reserved payload keys.
const (
	KeyProject = "project_key"
	KeyCaptcha = "cf-turnstile-response"
)

// wrapperKey holds the flat object in the deprecated wrapped JSON shape.
const wrapperKey = "data"

// multipartMemory bounds the in-memory part of a multipart body.
const multipartMemory = 1 << 20

// Payload is the flat field-name to value mapping submitted by a client.
type Payload map[string]string

// Lookup returns the value for a schema field. An exact key match wins;
// otherwise a single case-insensitive match is used.
func (p Payload) Lookup(name string) (string, bool) {
	if v, ok := p[name]; ok {
		return v, true
	}
	var (
		found string
		hits  int
	)
	for k, v := range p {
		if strings.EqualFold(k, name) {
			found = v
			hits++
		}
	}
	return found, hits == 1
}

// Parsed is a decoded request body.
type Parsed struct {
	Payload Payload
	// Wrapped is set when the body used the deprecated {"data": {...}} shape.
	Wrapped bool
}

// Parse decodes body according to contentType. Form encodings are used when
// declared; anything else, including an absent content type, is read as JSON.
func Parse(contentType string, body io.Reader) (*Parsed, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = ""
	}

	switch mediaType {
	case "application/x-www-form-urlencoded":
		return parseURLEncoded(body)
	case "multipart/form-data":
		return parseMultipart(body, params["boundary"])
	default:
		return parseJSON(body)
	}
}

func parseURLEncoded(body io.Reader) (*Parsed, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, badRequest(err)
	}
	values, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, badRequest(fmt.Errorf("malformed form body: %w", err))
	}
	return &Parsed{Payload: fromValues(values)}, nil
}

func parseMultipart(body io.Reader, boundary string) (*Parsed, error) {
	if boundary == "" {
		return nil, badRequest(errors.New("multipart body without boundary"))
	}
	form, err := multipart.NewReader(body, boundary).ReadForm(multipartMemory)
	if err != nil {
		return nil, badRequest(fmt.Errorf("malformed multipart body: %w", err))
	}
	defer form.RemoveAll()

	return &Parsed{Payload: fromValues(form.Value)}, nil
}

func fromValues(values map[string][]string) Payload {
	p := make(Payload, len(values))
	for k, vs := range values {
		p[k] = strings.Join(vs, ", ")
	}
	return p
}

func parseJSON(body io.Reader) (*Parsed, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, badRequest(err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, badRequest(errors.New("empty body"))
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, badRequest(fmt.Errorf("malformed JSON body: %w", err))
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, badRequest(errors.New("unexpected data after JSON body"))
	}
	if obj == nil {
		return nil, badRequest(errors.New("JSON body must be an object"))
	}

	inner, wrapped := obj[wrapperKey].(map[string]any)
	if wrapped {
		if _, flat := obj[KeyProject]; flat {
			// A flat body that happens to carry a "data" field.
			if _, nested := inner[KeyProject]; !nested {
				wrapped = false
			}
		}
	}
	if !wrapped {
		return &Parsed{Payload: flatten(obj)}, nil
	}

	p := flatten(inner)
	for k, v := range obj {
		if k == wrapperKey {
			continue
		}
		if _, ok := p[k]; !ok {
			p[k] = stringify(v)
		}
	}
	return &Parsed{Payload: p, Wrapped: true}, nil
}

func flatten(obj map[string]any) Payload {
	p := make(Payload, len(obj))
	for k, v := range obj {
		p[k] = stringify(v)
	}
	return p
}

// stringify renders a decoded JSON value as a single cell value.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = stringify(e)
		}
		return strings.Join(parts, ", ")
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

func badRequest(err error) *StepError {
	return stepError(StepParse, ErrBadRequest, err)
}
