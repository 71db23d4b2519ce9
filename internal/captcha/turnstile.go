// Package captcha verifies human-presence tokens issued to form submitters.
package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultVerifyURL is the Cloudflare Turnstile siteverify endpoint.
const DefaultVerifyURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

// ErrVerificationFailed is returned when the provider does not confirm the
// token. Transport failures are wrapped with it as well so callers treat
// both the same way.
var ErrVerificationFailed = errors.New("captcha verification failed")

// Verifier checks a client token.
type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

// ProviderError carries the error codes reported by the provider.
type ProviderError struct {
	Codes []string
}

func (e ProviderError) Error() string {
	if len(e.Codes) == 0 {
		return "turnstile rejected token"
	}
	return fmt.Sprintf("turnstile rejected token: %s", strings.Join(e.Codes, ","))
}

// TurnstileClient calls the Turnstile siteverify API.
type TurnstileClient struct {
	VerifyURL  string
	Secret     string
	HTTPClient *http.Client
}

// NewTurnstileClient creates a client. A nil httpClient gets one with timeout.
func NewTurnstileClient(secret string, httpClient *http.Client, timeout time.Duration) *TurnstileClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &TurnstileClient{
		VerifyURL:  DefaultVerifyURL,
		Secret:     secret,
		HTTPClient: httpClient,
	}
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
	Hostname   string   `json:"hostname"`
}

// Verify asks the provider whether token is valid. Tokens are single use,
// so a second call with the same token fails.
func (c *TurnstileClient) Verify(ctx context.Context, token, remoteIP string) error {
	if strings.TrimSpace(c.Secret) == "" {
		return fmt.Errorf("%w: turnstile secret is not configured", ErrVerificationFailed)
	}

	form := url.Values{}
	form.Set("secret", c.Secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.VerifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: siteverify http status=%d body=%q", ErrVerificationFailed, resp.StatusCode, string(body))
	}

	var vr siteverifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return fmt.Errorf("%w: decode siteverify response: %v", ErrVerificationFailed, err)
	}
	if !vr.Success {
		return errors.Join(ErrVerificationFailed, ProviderError{Codes: vr.ErrorCodes})
	}
	return nil
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(ctx context.Context, token, remoteIP string) error

func (f VerifierFunc) Verify(ctx context.Context, token, remoteIP string) error {
	return f(ctx, token, remoteIP)
}
