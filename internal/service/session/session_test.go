package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/liver-scraper-go/internal/domain"
)

type fakeKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: map[string][]byte{}}
}

func (f *fakeKV) Get(_ context.Context, key string, dest any) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.data[key]
	if !ok {
		return false, nil
	}
	if dest != nil {
		if err := json.Unmarshal(raw, dest); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (f *fakeKV) Set(_ context.Context, key string, value any, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = raw
	return nil
}

func (f *fakeKV) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range keys {
		delete(f.data, key)
	}
	return nil
}

func (f *fakeKV) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[key]
	return ok, nil
}

const loginFormHTML = `
<html><head><meta name="csrf-token" content="token-from-meta"></head>
<body>
<form action="/login/submit" method="post">
  <input type="hidden" name="_token" value="token-from-form">
  <input type="text" name="email">
  <input type="password" name="password">
</form>
</body></html>`

type loginSite struct {
	mu         sync.Mutex
	gets       int
	posts      int
	lastForm   map[string][]string
	postStatus int
	location   string
	postBody   string
	setCookie  string
}

func (ls *loginSite) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /login/", func(w http.ResponseWriter, r *http.Request) {
		ls.mu.Lock()
		ls.gets++
		ls.mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: "pre_login", Value: "1"})
		w.Write([]byte(loginFormHTML))
	})
	mux.HandleFunc("POST /login/submit", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		ls.mu.Lock()
		ls.posts++
		ls.lastForm = r.PostForm
		ls.mu.Unlock()

		if ls.setCookie != "" {
			w.Header().Add("Set-Cookie", ls.setCookie)
		}
		if ls.location != "" {
			w.Header().Set("Location", ls.location)
		}
		w.WriteHeader(ls.postStatus)
		w.Write([]byte(ls.postBody))
	})
	return mux
}

func (ls *loginSite) postCount() int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.posts
}

func (ls *loginSite) submittedForm() map[string][]string {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.lastForm
}

func newTestService(t *testing.T, site *loginSite, kv *fakeKV) (*Service, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(site.handler())
	t.Cleanup(server.Close)

	svc := New(Config{
		BaseURL:   server.URL,
		LoginPath: "/login/",
		Email:     "user@example.com",
		Password:  "secret",
		UserAgent: "test-agent",
		Timeout:   5 * time.Second,
		TTL:       30 * time.Minute,
	}, kv, zap.NewNop())
	return svc, server
}

func TestLoginRedirectSuccess(t *testing.T) {
	site := &loginSite{
		postStatus: http.StatusFound,
		location:   "/liver/list/",
		setCookie:  "SESS_PUBLISH=abc123; Path=/; HttpOnly",
	}
	svc, _ := newTestService(t, site, newFakeKV())

	token, err := svc.Session(context.Background())
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	if token.Method != domain.LoginMethodRedirect {
		t.Errorf("method = %q, want redirect", token.Method)
	}
	if token.Cookies == "" {
		t.Fatal("no cookies captured")
	}

	// Cookies from the form GET and the POST response are both carried.
	for _, want := range []string{"pre_login=1", "SESS_PUBLISH=abc123"} {
		if !containsCookie(token.Cookies, want) {
			t.Errorf("cookies %q missing %q", token.Cookies, want)
		}
	}

	// Credentials submitted under every field alias, CSRF from the page.
	form := url.Values(site.submittedForm())
	for _, field := range []string{"email", "username", "login_id", "user_email", "mail"} {
		if got := form.Get(field); got != "user@example.com" {
			t.Errorf("form[%s] = %q", field, got)
		}
	}
	for _, field := range []string{"password", "passwd", "pass", "login_password"} {
		if got := form.Get(field); got != "secret" {
			t.Errorf("form[%s] = %q", field, got)
		}
	}
	if got := form.Get("csrf_token"); got != "token-from-meta" {
		t.Errorf("csrf = %q", got)
	}
}

func TestLoginContentFailure(t *testing.T) {
	// A 200 that still shows the login form is a failure even though the
	// status looks fine.
	site := &loginSite{
		postStatus: http.StatusOK,
		postBody:   `<html><form>ログイン<input type="password"></form></html>`,
	}
	svc, _ := newTestService(t, site, newFakeKV())

	if _, err := svc.Session(context.Background()); err == nil {
		t.Fatal("expected login failure")
	}
}

func TestSessionReuse(t *testing.T) {
	site := &loginSite{
		postStatus: http.StatusFound,
		location:   "/liver/list/",
		setCookie:  "SESS_PUBLISH=abc123; Path=/",
	}
	kv := newFakeKV()
	svc, _ := newTestService(t, site, kv)

	ctx := context.Background()
	if _, err := svc.Session(ctx); err != nil {
		t.Fatalf("first Session: %v", err)
	}
	if _, err := svc.Session(ctx); err != nil {
		t.Fatalf("second Session: %v", err)
	}
	if got := site.postCount(); got != 1 {
		t.Errorf("expected 1 login POST, got %d", got)
	}

	if _, err := svc.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := site.postCount(); got != 2 {
		t.Errorf("expected re-login after Refresh, got %d POSTs", got)
	}
}

func TestSessionExpiry(t *testing.T) {
	token := &domain.SessionToken{Cookies: "a=b", ObtainedAt: time.Now().Add(-time.Hour)}
	if !token.Expired(30*time.Minute, time.Now()) {
		t.Error("hour-old token should be expired at 30m TTL")
	}

	fresh := &domain.SessionToken{Cookies: "a=b", ObtainedAt: time.Now()}
	if fresh.Expired(30*time.Minute, time.Now()) {
		t.Error("fresh token should not be expired")
	}

	var nilToken *domain.SessionToken
	if !nilToken.Expired(30*time.Minute, time.Now()) {
		t.Error("nil token must always be expired")
	}
}

func TestLoginCookieHint(t *testing.T) {
	// No redirect, body still shows a login string, but the server handed
	// out a session cookie.
	site := &loginSite{
		postStatus: http.StatusOK,
		postBody:   "ログイン済み",
		setCookie:  "SESS_PUBLISH=abc123; Path=/",
	}
	svc, _ := newTestService(t, site, newFakeKV())

	token, err := svc.Session(context.Background())
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	if token.Method != domain.LoginMethodCookie {
		t.Errorf("method = %q, want cookie", token.Method)
	}
}

func TestLoginFallback(t *testing.T) {
	// 200 with no recognizable signal, but a substantial cookie bundle.
	site := &loginSite{
		postStatus: http.StatusOK,
		postBody:   "welcome home",
		setCookie:  "visitor_token=averylongopaquevalue123456; Path=/",
	}
	svc, _ := newTestService(t, site, newFakeKV())

	token, err := svc.Session(context.Background())
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	if token.Method != domain.LoginMethodFallback {
		t.Errorf("method = %q, want fallback", token.Method)
	}
}

func TestMergeCookiePairs(t *testing.T) {
	merged := mergeCookiePairs(
		[]cookiePair{{name: "a", value: "1"}, {name: "b", value: "2"}},
		[]cookiePair{{name: "a", value: "9"}, {name: "c", value: "3"}},
	)
	if got := joinPairs(merged); got != "a=9; b=2; c=3" {
		t.Errorf("merged = %q", got)
	}
}

func containsCookie(cookies, want string) bool {
	for _, part := range strings.Split(cookies, "; ") {
		if part == want {
			return true
		}
	}
	return false
}
