package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// State is a step of the device-authorization flow.
type State string

// Device flow states. Granted, Expired, Denied, Error and Timeout are terminal.
const (
	StateRequesting State = "requesting"
	StateDisplaying State = "displaying"
	StatePolling    State = "polling"
	StateGranted    State = "granted"
	StateExpired    State = "expired"
	StateDenied     State = "denied"
	StateError      State = "error"
	StateTimeout    State = "timeout"
)

const (
	deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"

	defaultPollInterval = 5 * time.Second
	minPollInterval     = 3 * time.Second
	slowDownIncrement   = 5 * time.Second
	defaultDeviceTTL    = 600 * time.Second
)

// DefaultDeviceScopes are requested in read mode; write mode adds write:orders.
var DefaultDeviceScopes = []string{"openid", "profile", "email", "offline_access", "read:orders"}

// DeviceSession is an issued device code. Interval only grows.
type DeviceSession struct {
	DeviceCode              string
	UserCode                string
	VerificationURI         string
	VerificationURIComplete string
	Interval                time.Duration
	Deadline                time.Time
}

// Result is the outcome of a device flow run.
type Result struct {
	State   State
	Token   AcquiredToken
	Status  int
	Body    string
	Session DeviceSession
}

// DeviceFlowClient drives the device-authorization grant against a tenant.
type DeviceFlowClient struct {
	// Issuer is the authorization server base URL, see IssuerURL.
	Issuer     string
	ClientID   string
	Audience   string
	Scopes     []string
	HTTPClient *http.Client
	Logger     *slog.Logger

	// Prompt shows the user code. Defaults to PrintPrompt on stdout.
	Prompt func(DeviceSession)
	// Sleep blocks between polls. Defaults to a context-aware timer.
	Sleep func(context.Context, time.Duration) error
	// Now is the clock used for the deadline.
	Now func() time.Time
}

// Run requests a device code, displays it and polls until a terminal
// state. The error is nil only for StateGranted.
func (c *DeviceFlowClient) Run(ctx context.Context) (Result, error) {
	c.logger().Debug("device flow", "state", StateRequesting, "client_id", c.ClientID)
	sess, err := c.requestCode(ctx)
	if err != nil {
		res := Result{State: StateError}
		var dfe *DeviceFlowError
		if errors.As(err, &dfe) {
			res.Status, res.Body = dfe.Status, dfe.Body
		}
		return res, err
	}

	c.logger().Debug("device flow", "state", StateDisplaying, "user_code", sess.UserCode)
	c.prompt(sess)

	c.logger().Debug("device flow", "state", StatePolling, "interval", sess.Interval, "deadline", sess.Deadline)
	return c.poll(ctx, sess)
}

func (c *DeviceFlowClient) requestCode(ctx context.Context) (DeviceSession, error) {
	conf := &oauth2.Config{
		ClientID: c.ClientID,
		Scopes:   c.Scopes,
		Endpoint: oauth2.Endpoint{
			DeviceAuthURL: c.Issuer + "/oauth/device/code",
			TokenURL:      c.Issuer + "/oauth/token",
			AuthStyle:     oauth2.AuthStyleInParams,
		},
	}
	if conf.Scopes == nil {
		conf.Scopes = DefaultDeviceScopes
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient())
	da, err := conf.DeviceAuth(ctx, oauth2.SetAuthURLParam("audience", c.Audience))
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return DeviceSession{}, &DeviceFlowError{Status: re.Response.StatusCode, Body: string(re.Body)}
		}
		if isNetworkError(err) {
			return DeviceSession{}, fmt.Errorf("%w: device code request: %w", ErrNetwork, err)
		}
		return DeviceSession{}, fmt.Errorf("%w: device code request: %w", ErrMalformedResponse, err)
	}
	return c.newSession(da), nil
}

// newSession applies the interval floor and converts the advertised
// lifetime to an absolute deadline on the client clock.
func (c *DeviceFlowClient) newSession(da *oauth2.DeviceAuthResponse) DeviceSession {
	interval := defaultPollInterval
	if da.Interval > 0 {
		interval = time.Duration(da.Interval) * time.Second
	}
	interval = max(interval, minPollInterval)

	ttl := defaultDeviceTTL
	if !da.Expiry.IsZero() {
		ttl = time.Until(da.Expiry).Round(time.Second)
	}

	return DeviceSession{
		DeviceCode:              da.DeviceCode,
		UserCode:                da.UserCode,
		VerificationURI:         da.VerificationURI,
		VerificationURIComplete: da.VerificationURIComplete,
		Interval:                interval,
		Deadline:                c.now().Add(ttl),
	}
}

type pollError struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

func (c *DeviceFlowClient) poll(ctx context.Context, sess DeviceSession) (Result, error) {
	for c.now().Before(sess.Deadline) {
		status, body, err := c.pollOnce(ctx, sess.DeviceCode)
		if err != nil {
			return Result{State: StateError, Session: sess}, err
		}

		if status/100 == 2 {
			tok, err := parseToken(body, 0, c.now())
			if err != nil {
				return Result{State: StateError, Status: status, Body: string(body), Session: sess}, err
			}
			c.logger().Debug("device flow", "state", StateGranted, "scope", tok.Scope)
			return Result{State: StateGranted, Token: tok, Status: status, Session: sess}, nil
		}

		var pe pollError
		if err := json.Unmarshal(body, &pe); err != nil {
			pe = pollError{}
		}
		switch pe.Error {
		case errAuthorizationPending:
		case errSlowDown:
			sess.Interval += slowDownIncrement
			c.logger().Debug("device flow slow_down", "interval", sess.Interval)
		case errExpiredToken:
			return Result{State: StateExpired, Status: status, Body: string(body), Session: sess}, ErrDeviceCodeExpired
		case errAccessDenied:
			return Result{State: StateDenied, Status: status, Body: string(body), Session: sess}, ErrAccessDenied
		default:
			return Result{State: StateError, Status: status, Body: string(body), Session: sess},
				&DeviceFlowError{Status: status, Body: string(body)}
		}

		if err := c.sleep(ctx, sess.Interval); err != nil {
			return Result{State: StateError, Session: sess}, err
		}
	}
	return Result{State: StateTimeout, Session: sess}, ErrTimeout
}

func (c *DeviceFlowClient) pollOnce(ctx context.Context, deviceCode string) (int, []byte, error) {
	form := url.Values{
		"grant_type":  {deviceGrantType},
		"device_code": {deviceCode},
		"client_id":   {c.ClientID},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Issuer+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, fmt.Errorf("build token poll: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: token poll: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read token poll: %w", ErrNetwork, err)
	}
	return resp.StatusCode, body, nil
}

// PrintPrompt writes the login instructions for sess to w.
func PrintPrompt(w io.Writer) func(DeviceSession) {
	return func(sess DeviceSession) {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "== Device Login ==")
		fmt.Fprintln(w, "Go to:", sess.VerificationURI)
		fmt.Fprintln(w, "Enter code:", sess.UserCode)
		if sess.VerificationURIComplete != "" {
			fmt.Fprintln(w, "(Tip: if available, visit this full URL)", sess.VerificationURIComplete)
		}
	}
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *DeviceFlowClient) prompt(sess DeviceSession) {
	if c.Prompt != nil {
		c.Prompt(sess)
		return
	}
	PrintPrompt(os.Stdout)(sess)
}

func (c *DeviceFlowClient) sleep(ctx context.Context, d time.Duration) error {
	if c.Sleep != nil {
		return c.Sleep(ctx, d)
	}
	return SleepContext(ctx, d)
}

func (c *DeviceFlowClient) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *DeviceFlowClient) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return NewHTTPClient()
}

func (c *DeviceFlowClient) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
