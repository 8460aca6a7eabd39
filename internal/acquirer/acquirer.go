// Package acquirer implements the TokenAcquirer capability from
// spec.md §4.A/§6: it logs into the upstream data service's
// `POST <base>/api/login` endpoint and extracts a bearer token from
// whichever of the two historical response shapes the upstream used.
package acquirer

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/nghyane/tokenproxy/internal/credential"
	log "github.com/nghyane/tokenproxy/internal/logging"
	"github.com/nghyane/tokenproxy/internal/resilience"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// LoginTimeout is the wall-clock timeout for a single login/refresh call
// (spec.md §4.A, §5).
const LoginTimeout = 30 * time.Second

// Acquirer wraps one HTTP client bound to a fixed base URL. It is cheap
// to share across goroutines: the underlying *http.Client and circuit
// breaker are both safe for concurrent use.
type Acquirer struct {
	client   *http.Client
	loginURL string
	executor *resilience.Executor[string]
}

// New builds an Acquirer against baseURL (e.g. "http://127.0.0.1:8848").
func New(baseURL string) *Acquirer {
	breakerCfg := resilience.DefaultBreakerConfig("token-acquirer")
	return &Acquirer{
		client:   resilience.NewHTTPClient(LoginTimeout),
		loginURL: baseURL + "/api/login",
		executor: resilience.NewExecutor[string](resilience.DefaultRetryConfig, &breakerCfg),
	}
}

// Login performs one login call and returns the issued token, retrying
// transient failures through a bounded retry policy and tripping a
// circuit breaker if the upstream is consistently failing (SPEC_FULL.md
// §3, §5 open-question decision).
func (a *Acquirer) Login(ctx context.Context, cred credential.Credential) (string, error) {
	return a.executor.Execute(ctx, func() (string, error) {
		return a.doLogin(ctx, cred)
	})
}

// Refresh is semantically identical to Login; the distinct name exists
// so call sites (and logs) can distinguish startup provisioning from
// in-place re-issue, per spec.md §4.A.
func (a *Acquirer) Refresh(ctx context.Context, cred credential.Credential) (string, error) {
	log.Infof("acquirer: refreshing token for user %q", cred.Username)
	return a.Login(ctx, cred)
}

// AcquireN performs N sequential logins with the same credential,
// tolerating partial failure: each failure is logged and acquisition
// continues with the remainder. Only an empty result is an error,
// letting the service start in a degraded state when the upstream is
// rate-limiting (spec.md §4.A).
func (a *Acquirer) AcquireN(ctx context.Context, cred credential.Credential, n int) ([]string, error) {
	log.Infof("acquirer: acquiring %d tokens for user %q", n, cred.Username)

	tokens := make([]string, 0, n)
	failures := 0

	for i := 0; i < n; i++ {
		token, err := a.Login(ctx, cred)
		if err != nil {
			failures++
			log.WithError(err).Warnf("acquirer: login %d/%d failed", i+1, n)
			continue
		}
		tokens = append(tokens, token)
	}

	if failures > 0 {
		log.Warnf("acquirer: acquisition completed with %d failures (%d/%d successful)", failures, len(tokens), n)
	} else {
		log.Infof("acquirer: successfully acquired all %d tokens", len(tokens))
	}

	if len(tokens) == 0 {
		return nil, newTokenError(cred.Username, "failed to acquire any tokens; check credentials and upstream connectivity")
	}
	return tokens, nil
}

func (a *Acquirer) doLogin(ctx context.Context, cred credential.Credential) (string, error) {
	body, err := sjson.SetBytes(nil, "username", cred.Username)
	if err != nil {
		return "", newTokenError(cred.Username, "failed to encode login request: %v", err)
	}
	body, err = sjson.SetBytes(body, "password", cred.Password)
	if err != nil {
		return "", newTokenError(cred.Username, "failed to encode login request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.loginURL, bytes.NewReader(body))
	if err != nil {
		return "", newTokenError(cred.Username, "failed to build login request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", newTokenError(cred.Username, "request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", newTokenError(cred.Username, "failed to read response body: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", newTokenError(cred.Username, "HTTP %d", resp.StatusCode)
	}

	return parseLoginResponse(cred.Username, respBody)
}

// parseLoginResponse accepts either historical response shape documented
// in spec.md §4.A:
//
//	Shape X: {"userToken": "...", "resultCode": 0, "msg": "..."}
//	Shape Y: {"session": "...", "code": "0"|"1", "message": "...", "result": ["<token>", ...]}
//
// The shape is recognized by which distinguishing field is present.
func parseLoginResponse(username string, body []byte) (string, error) {
	if !gjson.ValidBytes(body) {
		return "", newTokenError(username, "response is not valid JSON")
	}
	parsed := gjson.ParseBytes(body)

	if userToken := parsed.Get("userToken"); userToken.Exists() {
		return parseShapeX(username, parsed, userToken)
	}
	if result := parsed.Get("result"); result.Exists() {
		return parseShapeY(username, parsed, result)
	}
	return "", newTokenError(username, "response missing both userToken and result fields")
}

func parseShapeX(username string, parsed, userToken gjson.Result) (string, error) {
	if code := parsed.Get("resultCode"); code.Exists() && code.Int() != 0 {
		msg := parsed.Get("msg").String()
		return "", newTokenError(username, "resultCode %d: %s", code.Int(), msg)
	}
	if userToken.String() == "" {
		return "", newTokenError(username, "userToken field is empty")
	}
	return userToken.String(), nil
}

func parseShapeY(username string, parsed, result gjson.Result) (string, error) {
	if code := parsed.Get("code"); code.Exists() && code.String() != "0" {
		msg := parsed.Get("message").String()
		return "", newTokenError(username, "code %s: %s", code.String(), msg)
	}
	arr := result.Array()
	if len(arr) == 0 {
		return "", newTokenError(username, "result array is empty")
	}
	token := arr[0].String()
	if token == "" {
		return "", newTokenError(username, "result[0] is empty")
	}
	return token, nil
}
