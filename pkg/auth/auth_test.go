package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/GhostN3xus/bigipxxe/pkg/network"
)

type failingSender struct{ err error }

func (f failingSender) Send(context.Context, network.Request) (*network.Response, error) {
	return nil, f.err
}

func newLoginServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/tmui/logmein.html" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.URL.RawQuery != "msgcode=2&" {
			t.Errorf("unexpected login query %q", r.URL.RawQuery)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		switch {
		case r.PostForm.Get("username") == "admin" && r.PostForm.Get("passwd") == "admin":
			http.SetCookie(w, &http.Cookie{Name: "BIGIPAuthUsernameCookie", Value: "admin", Path: "/"})
			http.SetCookie(w, &http.Cookie{Name: "BIGIPAuthCookie", Value: "0123abcd", Path: "/", Secure: true})
			w.Header().Set("Location", "/tmui/tmui/system/preferences/properties.jsp")
			w.WriteHeader(http.StatusFound)
		case r.PostForm.Get("username") == "nocookie":
			w.Header().Set("Location", "/tmui/tmui/system/preferences/properties.jsp")
			w.WriteHeader(http.StatusFound)
		case r.PostForm.Get("username") == "ok200":
			http.SetCookie(w, &http.Cookie{Name: "BIGIPAuthCookie", Value: "x"})
			w.WriteHeader(http.StatusOK)
		default:
			w.Header().Set("Location", "/tmui/login.jsp?msgcode=1")
			w.WriteHeader(http.StatusFound)
		}
	}))
}

func bind(t *testing.T, server *httptest.Server) network.Sender {
	t.Helper()
	client, err := network.NewClient(network.Options{Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	ep, err := client.Bind(server.URL)
	if err != nil {
		t.Fatal(err)
	}
	return ep
}

func TestLoginSuccess(t *testing.T) {
	server := newLoginServer(t)
	defer server.Close()

	a := New(bind(t, server))
	session, err := a.Login(context.Background(), Credentials{Username: "admin", Password: "admin"}, "/tmui/logmein.html?msgcode=2&")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.Empty() {
		t.Fatal("expected cookies")
	}
	want := "BIGIPAuthUsernameCookie=admin; BIGIPAuthCookie=0123abcd"
	if got := session.Header(); got != want {
		t.Errorf("cookie header = %q, want %q", got, want)
	}
	if len(session.SetCookie) != 2 {
		t.Errorf("expected raw Set-Cookie values, got %v", session.SetCookie)
	}
}

func TestLoginFailures(t *testing.T) {
	server := newLoginServer(t)
	defer server.Close()
	a := New(bind(t, server))

	cases := []struct {
		user string
		want Reason
	}{
		{"admin-typo", ReasonBadCredentials},
		{"nocookie", ReasonNoCookie},
		{"ok200", ReasonBadCredentials},
	}
	for _, tc := range cases {
		_, err := a.Login(context.Background(), Credentials{Username: tc.user, Password: "x"}, "/tmui/logmein.html?msgcode=2&")
		if err == nil {
			t.Fatalf("%s: expected failure", tc.user)
		}
		if got := ReasonOf(err); got != tc.want {
			t.Errorf("%s: reason = %s, want %s (%v)", tc.user, got, tc.want, err)
		}
	}
}

func TestLoginTransportErrorShortCircuits(t *testing.T) {
	cause := &network.TransportError{Kind: network.KindTimeout, Op: "POST", URL: "https://bigip", Err: context.DeadlineExceeded}
	_, err := New(failingSender{err: cause}).Login(context.Background(), Credentials{}, "/login")

	if ReasonOf(err) != ReasonTransport {
		t.Fatalf("expected transport reason, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected wrapped cause, got %v", err)
	}
}

func TestLoginCustomMarkerAndFailurePattern(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "SESSIONID", Value: "s"})
		w.Header().Set("Location", "/portal/denied")
		w.WriteHeader(http.StatusFound)
	}))
	defer server.Close()

	sender := bind(t, server)
	if _, err := New(sender, WithCookieMarker("SESSIONID")).Login(context.Background(), Credentials{}, "/"); err != nil {
		t.Fatalf("custom marker: unexpected error %v", err)
	}
	_, err := New(sender, WithCookieMarker("SESSIONID"), WithFailurePattern(regexp.MustCompile(`/denied`))).
		Login(context.Background(), Credentials{}, "/")
	if ReasonOf(err) != ReasonBadCredentials {
		t.Fatalf("custom failure pattern: got %v", err)
	}
}
