// Package broker is the Broker Client (spec §4.1): authenticated REST
// calls against the broker's hybrid API, token lifecycle, rate limiting,
// retries, and the mutating-call request-hash header. The WebSocket
// transport lives in wsconn; this package only knows REST.
//
// Grounded on the teacher's exec/client.go (HTTP client shape, dry-run
// mode, header building) retargeted from Polymarket CLOB + EIP-712 order
// signing to the spec's bearer-token + SHA-256-body-hash scheme, and on
// original_source/core/kis_auth.go + rest_api_manager.go for the exact
// envelope semantics (rt_cd/msg_cd/msg1/output, Unavailable vs Empty).
package broker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/kisquant/tradebot/kiserr"
	"github.com/kisquant/tradebot/ratelimit"
)

const (
	refreshMargin  = 5 * time.Minute
	connectTimeout = 10 * time.Second
	requestTimeout = 30 * time.Second
	poolSize       = 100
	maxRetries     = 3
)

// Config holds the Broker Client's credentials and endpoints, read from
// the environment the same way the teacher reads CLOB_API_KEY etc.
type Config struct {
	AppKey     string
	AppSecret  string
	AccountNo  string
	HTSID      string
	BaseURL    string
	TokenPath  string
	RatePerSec int
	Paper      bool
}

// ConfigFromEnv builds a Config from the KIS_* environment variables named
// in spec §6.
func ConfigFromEnv() Config {
	rate := 20
	if v := os.Getenv("KIS_RATE_LIMIT"); v != "" {
		fmt.Sscanf(v, "%d", &rate)
	}
	return Config{
		AppKey:     os.Getenv("KIS_APP_KEY"),
		AppSecret:  os.Getenv("KIS_APP_SECRET"),
		AccountNo:  os.Getenv("KIS_ACCOUNT_NO"),
		HTSID:      os.Getenv("KIS_HTS_ID"),
		BaseURL:    envDefault("KIS_BASE_URL", "https://openapi.koreainvestment.com:9443"),
		TokenPath:  envDefault("KIS_TOKEN_PATH", "token_info.json"),
		RatePerSec: rate,
		Paper:      os.Getenv("KIS_PAPER") == "true",
	}
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Client is the authenticated REST surface of the broker.
type Client struct {
	cfg     Config
	http    *resty.Client
	limiter *ratelimit.Limiter

	tokenMu    sync.Mutex
	tokens     *tokenStore
	refreshing chan struct{} // non-nil while a refresh is in flight
}

// New builds a Client. limiter is injected (Design Note §9: no global
// module state) so tests can substitute a permissive fake.
func New(cfg Config, limiter *ratelimit.Limiter) *Client {
	h := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(requestTimeout).
		SetRetryCount(maxRetries).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(4 * time.Second).
		AddRetryCondition(shouldRetry)

	return &Client{
		cfg:     cfg,
		http:    h,
		limiter: limiter,
		tokens:  newTokenStore(cfg.TokenPath),
	}
}

// shouldRetry implements spec §4.1: retry on 429/5xx, never on other 4xx.
func shouldRetry(r *resty.Response, err error) bool {
	if err != nil {
		return true // transport-level failure
	}
	sc := r.StatusCode()
	return sc == 429 || sc >= 500
}

// ═══════════════════════════════════════════════════════════════════════
// AUTH
// ═══════════════════════════════════════════════════════════════════════

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Authenticate returns a valid bearer Token, refreshing if the cached one
// has less than refreshMargin left. Flattened per Design Note §9: a
// double-checked-locked acquire with a single in-flight refresh that other
// callers wait on, instead of the original's reentrant lock.
func (c *Client) Authenticate(ctx context.Context) (Token, error) {
	if tok := c.tokens.get(); tok.Valid(refreshMargin) {
		return tok, nil
	}

	c.tokenMu.Lock()
	if tok := c.tokens.get(); tok.Valid(refreshMargin) {
		c.tokenMu.Unlock()
		return tok, nil
	}
	if c.refreshing != nil {
		wait := c.refreshing
		c.tokenMu.Unlock()
		<-wait
		return c.tokens.get(), nil
	}
	done := make(chan struct{})
	c.refreshing = done
	c.tokenMu.Unlock()

	tok, err := c.doAuthenticate(ctx)

	c.tokenMu.Lock()
	c.refreshing = nil
	c.tokenMu.Unlock()
	close(done)

	return tok, err
}

func (c *Client) doAuthenticate(ctx context.Context) (Token, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Token{}, err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{
			"grant_type": "client_credentials",
			"appkey":     c.cfg.AppKey,
			"appsecret":  c.cfg.AppSecret,
		}).
		Post("/oauth2/tokenP")
	if err != nil {
		return Token{}, kiserr.New(kiserr.Transport, "authenticate", "token request failed", err)
	}
	if resp.StatusCode() != 200 {
		return Token{}, kiserr.New(kiserr.Auth, "authenticate", "token endpoint rejected credentials", nil)
	}

	var tr tokenResponse
	if err := json.Unmarshal(resp.Body(), &tr); err != nil {
		return Token{}, kiserr.New(kiserr.InvalidResponse, "authenticate", "malformed token body", err)
	}

	tok := Token{Value: tr.AccessToken, ExpiresAt: time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)}
	c.tokens.set(tok)
	return tok, nil
}

// ForceRefresh drops the cached token, forcing the next Authenticate to
// hit the network. Used by the AuthError fast-fail path (spec §7): one
// forced refresh, fail fatally if that fails too.
func (c *Client) ForceRefresh(ctx context.Context) (Token, error) {
	c.tokens.set(Token{})
	return c.Authenticate(ctx)
}

// ═══════════════════════════════════════════════════════════════════════
// REQUEST SIGNING (spec §4.1, §6: SHA-256 hash header on mutating calls)
// ═══════════════════════════════════════════════════════════════════════

func hashKey(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// buildHeaders attaches the auth/app/tr_id/custtype/hashkey headers spec §6
// requires on every mutating call.
func (c *Client) buildHeaders(ctx context.Context, req *resty.Request, trID string, body any) error {
	tok, err := c.Authenticate(ctx)
	if err != nil {
		return err
	}
	req.SetHeader("authorization", "Bearer "+tok.Value)
	req.SetHeader("appkey", c.cfg.AppKey)
	req.SetHeader("appsecret", c.cfg.AppSecret)
	req.SetHeader("tr_id", trID)
	req.SetHeader("custtype", "P")

	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return kiserr.New(kiserr.InvalidResponse, "buildHeaders", "cannot encode body", err)
		}
		req.SetHeader("hashkey", hashKey(raw))
		req.SetBody(json.RawMessage(raw))
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════
// ENVELOPE / ERROR MAPPING
// ═══════════════════════════════════════════════════════════════════════

// envelope is the common REST response shape (spec §6).
type envelope struct {
	RtCd   string          `json:"rt_cd"`
	MsgCd  string          `json:"msg_cd"`
	Msg1   string          `json:"msg1"`
	Output json.RawMessage `json:"output"`
}

var marketClosedPhrases = []string{"장종료", "market closed", "휴장", "closed"}

func isMarketClosedMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, p := range marketClosedPhrases {
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// classifyEmptyOutput distinguishes Unavailable (market closed) from Empty
// (nothing matched) per spec §6's output:[] handling.
func classifyEmptyOutput(env envelope) error {
	if isMarketClosedMessage(env.Msg1) {
		return kiserr.New(kiserr.Unavailable, "classifyEmptyOutput", env.Msg1, nil)
	}
	return kiserr.New(kiserr.Empty, "classifyEmptyOutput", env.Msg1, nil)
}

// doRequest performs a rate-limited, retried REST call and maps the
// envelope/status code to the taxonomy of kiserr. do is one of the
// request's own verb methods (req.Get, req.Post, ...) bound to path.
func (c *Client) doRequest(ctx context.Context, op string, do func(url string) (*resty.Response, error), _ *resty.Request, path string) (envelope, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return envelope{}, err
	}

	resp, err := do(path)
	if err != nil {
		return envelope{}, kiserr.New(kiserr.Transport, op, "request failed after retries", err)
	}

	sc := resp.StatusCode()
	if sc == 401 {
		return envelope{}, kiserr.New(kiserr.Auth, op, "token rejected", nil)
	}
	if sc == 429 {
		return envelope{}, kiserr.New(kiserr.RateLimited, op, "rate limited", nil)
	}
	if sc >= 400 {
		return envelope{}, kiserr.New(kiserr.BrokerReject, op, string(resp.Body()), nil)
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return envelope{}, kiserr.New(kiserr.InvalidResponse, op, "malformed envelope", err)
	}
	if env.RtCd != "0" && env.RtCd != "1" {
		return envelope{}, kiserr.New(kiserr.BrokerReject, op, env.Msg1, nil)
	}
	return env, nil
}

// Log helper mirroring the teacher's structured log-chain style.
func logOp(op string, err error) {
	if err != nil {
		log.Warn().Err(err).Str("op", op).Msg("broker call failed")
	}
}
