package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/GhostN3xus/bigipxxe/pkg/logging"
	"github.com/GhostN3xus/bigipxxe/pkg/network"
)

const (
	DefaultCookieMarker = "BIGIPAuthCookie"
	defaultFailure      = `/login\.jsp`
)

// Credentials are the web UI username and password.
type Credentials struct {
	Username string
	Password string
}

// SessionCookie is what a successful login hands back. It is passed by value
// to the injection request and never refreshed.
type SessionCookie struct {
	SetCookie []string
	Cookies   []*http.Cookie
}

// Header renders the cookies as a Cookie request header value.
func (s SessionCookie) Header() string {
	parts := make([]string, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		parts = append(parts, (&http.Cookie{Name: c.Name, Value: c.Value}).String())
	}
	return strings.Join(parts, "; ")
}

func (s SessionCookie) Empty() bool { return len(s.Cookies) == 0 }

// Reason tells why a login did not produce a session.
type Reason int

const (
	ReasonTransport Reason = iota + 1
	ReasonBadCredentials
	ReasonNoCookie
)

func (r Reason) String() string {
	switch r {
	case ReasonTransport:
		return "transport"
	case ReasonBadCredentials:
		return "bad credentials"
	case ReasonNoCookie:
		return "no session cookie"
	default:
		return "unknown"
	}
}

// Error is returned by Login on failure.
type Error struct {
	Reason   Reason
	Status   int
	Location string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Reason, e.Err)
	}
	if e.Location != "" {
		return fmt.Sprintf("auth: %s (status %d, location %s)", e.Reason, e.Status, e.Location)
	}
	return fmt.Sprintf("auth: %s (status %d)", e.Reason, e.Status)
}

func (e *Error) Unwrap() error { return e.Err }

// ReasonOf extracts the failure reason from err, or 0 when err is not an auth error.
func ReasonOf(err error) Reason {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Reason
	}
	return 0
}

// Authenticator performs the form login against the management UI.
type Authenticator struct {
	sender  network.Sender
	marker  string
	failure *regexp.Regexp
	logger  *logging.Logger
}

type Option func(*Authenticator)

// WithCookieMarker sets the token a Set-Cookie header must contain.
func WithCookieMarker(marker string) Option {
	return func(a *Authenticator) {
		if marker != "" {
			a.marker = marker
		}
	}
}

// WithFailurePattern sets the redirect target that signals a rejected login.
func WithFailurePattern(re *regexp.Regexp) Option {
	return func(a *Authenticator) {
		if re != nil {
			a.failure = re
		}
	}
}

func WithLogger(logger *logging.Logger) Option {
	return func(a *Authenticator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func New(sender network.Sender, opts ...Option) *Authenticator {
	a := &Authenticator{
		sender:  sender,
		marker:  DefaultCookieMarker,
		failure: regexp.MustCompile(defaultFailure),
		logger:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Login posts the credentials to loginURI. The checks run in a fixed order:
// transport failure, then anything but a 302 away from the login page, then
// the session cookie marker.
func (a *Authenticator) Login(ctx context.Context, creds Credentials, loginURI string) (SessionCookie, error) {
	a.logger.Debug("attempting login", logging.Fields{"username": creds.Username, "uri": loginURI})

	resp, err := a.sender.Send(ctx, network.Request{
		Method: http.MethodPost,
		Path:   loginURI,
		Form: url.Values{
			"username": {creds.Username},
			"passwd":   {creds.Password},
		},
	})
	if err != nil {
		a.logger.Debug("login request failed", logging.Fields{"error": err})
		return SessionCookie{}, &Error{Reason: ReasonTransport, Err: err}
	}
	if resp == nil {
		return SessionCookie{}, &Error{Reason: ReasonBadCredentials}
	}

	location := resp.Headers.Get("Location")
	if resp.StatusCode != http.StatusFound || a.failure.MatchString(location) {
		a.logger.Info("failed login", logging.Fields{"status": resp.StatusCode, "location": location})
		return SessionCookie{}, &Error{Reason: ReasonBadCredentials, Status: resp.StatusCode, Location: location}
	}

	setCookie := resp.Headers.Values("Set-Cookie")
	for _, v := range setCookie {
		if strings.Contains(v, a.marker) {
			session := SessionCookie{
				SetCookie: setCookie,
				Cookies:   (&http.Response{Header: resp.Headers}).Cookies(),
			}
			a.logger.Info("successful login", logging.Fields{"cookie": a.marker})
			return session, nil
		}
	}

	a.logger.Info("login redirected without a session cookie", logging.Fields{"marker": a.marker})
	return SessionCookie{}, &Error{Reason: ReasonNoCookie, Status: resp.StatusCode, Location: location}
}
