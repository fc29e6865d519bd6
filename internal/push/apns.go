package push

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/net/http2"

	"github.com/neboloop/bingus/internal/clock"
)

const (
	ProductionHost = "https://api.push.apple.com"
	SandboxHost    = "https://api.sandbox.push.apple.com"

	// Apple rejects provider tokens older than an hour.
	jwtLifetime = 50 * time.Minute
)

// ErrNoDeviceToken is returned by Notify before any device registered.
var ErrNoDeviceToken = errors.New("no device token registered")

// APNsConfig holds the provider credentials for token-based APNs auth.
type APNsConfig struct {
	KeyPath  string
	KeyID    string
	TeamID   string
	BundleID string
	Sandbox  bool
}

// APNsOption configures an APNsClient.
type APNsOption func(*APNsClient)

// WithHTTPClient replaces the default HTTP/2 client.
func WithHTTPClient(c *http.Client) APNsOption {
	return func(a *APNsClient) { a.http = c }
}

// WithHost overrides the APNs endpoint.
func WithHost(host string) APNsOption {
	return func(a *APNsClient) { a.host = strings.TrimRight(host, "/") }
}

// WithClock sets the clock used for token issue times.
func WithClock(c clock.Clock) APNsOption {
	return func(a *APNsClient) { a.clock = c }
}

// APNsClient sends alert notifications to the registered device.
type APNsClient struct {
	cfg    APNsConfig
	key    *ecdsa.PrivateKey
	host   string
	http   *http.Client
	clock  clock.Clock
	tokens TokenStore

	mu          sync.Mutex
	deviceToken string
	jwt         string
	jwtIssued   time.Time
}

// NewAPNsClient loads the signing key and the stored device token.
// A missing or malformed key is an error.
func NewAPNsClient(cfg APNsConfig, tokens TokenStore, opts ...APNsOption) (*APNsClient, error) {
	pem, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("read APNs key: %w", err)
	}
	key, err := jwt.ParseECPrivateKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("parse APNs key: %w", err)
	}

	a := &APNsClient{
		cfg:    cfg,
		key:    key,
		host:   ProductionHost,
		http:   &http.Client{Transport: &http2.Transport{}, Timeout: 15 * time.Second},
		clock:  clock.Real(),
		tokens: tokens,
	}
	if cfg.Sandbox {
		a.host = SandboxHost
	}
	for _, opt := range opts {
		opt(a)
	}

	if tokens != nil {
		tok, err := tokens.Load()
		if err != nil {
			pushLog.Warnf("could not load device token: %v", err)
		}
		a.deviceToken = tok
		if tok != "" {
			pushLog.Infof("loaded device token %s", abbrev(tok))
		}
	}
	return a, nil
}

// SetDeviceToken records and persists the device to push to. Persistence
// failures are logged; the token is still used for this run.
func (a *APNsClient) SetDeviceToken(token string) {
	a.mu.Lock()
	a.deviceToken = token
	a.mu.Unlock()

	pushLog.Infof("device token registered: %s", abbrev(token))
	if a.tokens == nil {
		return
	}
	if err := a.tokens.Save(token); err != nil {
		pushLog.Warnf("could not persist device token: %v", err)
	}
}

// DeviceToken returns the current device token, or "".
func (a *APNsClient) DeviceToken() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.deviceToken
}

type apnsPayload struct {
	APS apsBody `json:"aps"`
}

type apsBody struct {
	Alert          apsAlert `json:"alert"`
	Sound          string   `json:"sound"`
	MutableContent int      `json:"mutable-content"`
}

type apsAlert struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Notify sends body as an alert to the registered device.
func (a *APNsClient) Notify(ctx context.Context, body string) error {
	device := a.DeviceToken()
	if device == "" {
		return ErrNoDeviceToken
	}
	bearer, err := a.providerToken()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(apnsPayload{APS: apsBody{
		Alert:          apsAlert{Title: Title, Body: truncateBody(body)},
		Sound:          "default",
		MutableContent: 1,
	}})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.host+"/3/device/"+device, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build APNs request: %w", err)
	}
	req.Header.Set("authorization", "bearer "+bearer)
	req.Header.Set("apns-topic", a.cfg.BundleID)
	req.Header.Set("apns-push-type", "alert")
	req.Header.Set("apns-priority", "10")
	req.Header.Set("content-type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("APNs request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("APNs %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	pushLog.Debugf("push sent to %s", abbrev(device))
	return nil
}

// providerToken returns the cached ES256 token, re-signing it once it
// is older than jwtLifetime.
func (a *APNsClient) providerToken() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	if a.jwt != "" && now.Sub(a.jwtIssued) < jwtLifetime {
		return a.jwt, nil
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": a.cfg.TeamID,
		"iat": now.Unix(),
	})
	tok.Header["kid"] = a.cfg.KeyID
	signed, err := tok.SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("sign APNs token: %w", err)
	}
	a.jwt = signed
	a.jwtIssued = now
	return signed, nil
}

func abbrev(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "..."
}
