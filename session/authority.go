package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CREDENTIAL AUTHORITY - External issuer of feed credentials
// ═══════════════════════════════════════════════════════════════════════════════

// Authority issues and renews credentials for an identity token
type Authority interface {
	Issue(ctx context.Context, identityToken string) (Credentials, error)
	Renew(ctx context.Context, identityToken string) (Credentials, error)
}

const (
	actionAuthenticate = "authenticate"
	actionRenew        = "renew_tokens"

	authMaxRetries    = 3
	authBaseRetryWait = 500 * time.Millisecond
)

type authRequest struct {
	Action string `json:"action"`
	UserID string `json:"user_id"`
}

type authResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    struct {
		PPToken    string `json:"ppToken"`
		JSessionID string `json:"jsessionId"`
		UserID     string `json:"userId"`
	} `json:"data"`
}

// HTTPAuthority talks to the credential endpoint over JSON/HTTP
type HTTPAuthority struct {
	url     string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
}

// NewHTTPAuthority creates a rate limited authority client
func NewHTTPAuthority(url, apiKey string, ratePerSec float64) *HTTPAuthority {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	return &HTTPAuthority{
		url:     url,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), 2),
	}
}

// Issue authenticates and returns a fresh credential pair
func (a *HTTPAuthority) Issue(ctx context.Context, identityToken string) (Credentials, error) {
	return a.call(ctx, actionAuthenticate, identityToken)
}

// Renew asks for a replacement credential pair
func (a *HTTPAuthority) Renew(ctx context.Context, identityToken string) (Credentials, error) {
	return a.call(ctx, actionRenew, identityToken)
}

func (a *HTTPAuthority) call(ctx context.Context, action, identityToken string) (Credentials, error) {
	body, err := json.Marshal(authRequest{Action: action, UserID: identityToken})
	if err != nil {
		return Credentials{}, &AuthError{Op: action, Err: err}
	}

	var out authResponse
	if err := a.doWithRetry(ctx, body, &out); err != nil {
		return Credentials{}, &AuthError{Op: action, Err: err}
	}
	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = "authority returned success=false"
		}
		return Credentials{}, &AuthError{Op: action, Err: fmt.Errorf("%s", msg)}
	}
	if out.Data.PPToken == "" || out.Data.JSessionID == "" {
		return Credentials{}, &AuthError{Op: action, Err: fmt.Errorf("authority returned empty credentials")}
	}

	return Credentials{
		CredentialA: out.Data.PPToken,
		CredentialB: out.Data.JSessionID,
		AccountRef:  out.Data.UserID,
	}, nil
}

// doWithRetry posts with rate limiting, retrying transport errors, 429 and 5xx
func (a *HTTPAuthority) doWithRetry(ctx context.Context, body []byte, out *authResponse) error {
	for attempt := 0; attempt <= authMaxRetries; attempt++ {
		if err := a.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if a.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+a.apiKey)
		}

		resp, err := a.http.Do(req)
		if err != nil {
			if attempt == authMaxRetries {
				return fmt.Errorf("request failed after %d retries: %w", authMaxRetries, err)
			}
			a.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			log.Warn().Int("status", resp.StatusCode).Int("attempt", attempt+1).Msg("⚠️ Authority unavailable, retrying")
			if attempt == authMaxRetries {
				return fmt.Errorf("authority status %d after %d retries", resp.StatusCode, authMaxRetries)
			}
			a.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return fmt.Errorf("authority status %d: %s", resp.StatusCode, string(msg))
		}

		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", authMaxRetries)
}

func (a *HTTPAuthority) sleep(ctx context.Context, attempt int) {
	wait := authBaseRetryWait << attempt
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
