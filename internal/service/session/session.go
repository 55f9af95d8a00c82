package session

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/kapu/liver-scraper-go/internal/constants"
	"github.com/kapu/liver-scraper-go/internal/domain"
	"github.com/kapu/liver-scraper-go/internal/service/store"
	"github.com/kapu/liver-scraper-go/pkg/errors"
)

// Login forms in the wild disagree on field names, so the credential is
// submitted under every alias at once. Servers ignore the extras.
var (
	emailFields    = []string{"email", "username", "login_id", "user_email", "mail"}
	passwordFields = []string{"password", "passwd", "pass", "login_password"}
	csrfFields     = []string{"csrf_token", "_token", "authenticity_token", "csrfmiddlewaretoken"}

	postLoginSignals  = []string{"/liver/", "/dashboard", "/mypage", "/profile"}
	contentSignals    = []string{"ログアウト", "マイページ", "/liver/list/", "livers_item"}
	sessionCookieHint = []string{"SESS_PUBLISH", "session", "auth"}
)

type Config struct {
	BaseURL   string
	LoginPath string
	Email     string
	Password  string
	UserAgent string
	Timeout   time.Duration
	TTL       time.Duration
}

// Service obtains and caches authenticated cookie bundles. Redirects
// are never followed automatically: the login verdict depends on seeing
// the raw 302.
type Service struct {
	http   *resty.Client
	kv     store.KeyValue
	cfg    Config
	logger *zap.Logger
	mu     sync.Mutex
}

func New(cfg Config, kv store.KeyValue, logger *zap.Logger) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = constants.SessionConfig.TTL
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent).
		SetRedirectPolicy(resty.RedirectPolicyFunc(func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}))
	client.SetCookieJar(nil)

	return &Service{
		http:   client,
		kv:     kv,
		cfg:    cfg,
		logger: logger,
	}
}

// Session returns a cached token when one is still fresh, otherwise
// performs a full login.
func (s *Service) Session(ctx context.Context) (*domain.SessionToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cached domain.SessionToken
	found, err := s.kv.Get(ctx, constants.StorageKeys.LoginSession, &cached)
	if err != nil {
		s.logger.Warn("Session cache read failed, logging in fresh", zap.Error(err))
	}
	if found && !cached.Expired(s.cfg.TTL, time.Now()) {
		s.logger.Debug("Reusing cached session",
			zap.String("method", cached.Method),
			zap.Time("obtained_at", cached.ObtainedAt),
		)
		return &cached, nil
	}

	return s.login(ctx)
}

// Invalidate drops the cached token so the next Session call logs in
// again. Called after a login wall.
func (s *Service) Invalidate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv.Del(ctx, constants.StorageKeys.LoginSession)
}

// Refresh invalidates and immediately rebuilds the session.
func (s *Service) Refresh(ctx context.Context) (*domain.SessionToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Del(ctx, constants.StorageKeys.LoginSession); err != nil {
		s.logger.Warn("Session invalidate failed", zap.Error(err))
	}
	return s.login(ctx)
}

func (s *Service) login(ctx context.Context) (*domain.SessionToken, error) {
	pageResp, err := s.http.R().SetContext(ctx).Get(s.cfg.LoginPath)
	if err != nil {
		return nil, errors.NewAuthError("login page fetch failed", "get-form", err)
	}
	pageCookies := setCookiePairs(pageResp.Header())

	form, err := parseLoginForm(pageResp.Body(), s.cfg.LoginPath)
	if err != nil {
		return nil, errors.NewAuthError("login form parse failed", "parse-form", err)
	}

	values := url.Values{}
	for name, value := range form.hidden {
		values.Set(name, value)
	}
	for _, name := range emailFields {
		values.Set(name, s.cfg.Email)
	}
	for _, name := range passwordFields {
		values.Set(name, s.cfg.Password)
	}
	if form.csrf != "" {
		for _, name := range csrfFields {
			values.Set(name, form.csrf)
		}
	}

	postResp, err := s.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetHeader("Referer", s.cfg.BaseURL+s.cfg.LoginPath).
		SetHeader("Cookie", joinPairs(pageCookies)).
		SetFormDataFromValues(values).
		Post(form.action)
	if err != nil {
		return nil, errors.NewAuthError("login submit failed", "post-form", err)
	}

	merged := mergeCookiePairs(pageCookies, setCookiePairs(postResp.Header()))
	method, err := evaluateLogin(postResp, merged)
	if err != nil {
		s.logger.Error("Login rejected",
			zap.Int("status", postResp.StatusCode()),
			zap.String("location", postResp.Header().Get("Location")),
		)
		return nil, err
	}

	token := &domain.SessionToken{
		Cookies:    joinPairs(merged),
		Method:     method,
		ObtainedAt: time.Now(),
	}
	if err := s.kv.Set(ctx, constants.StorageKeys.LoginSession, token, s.cfg.TTL); err != nil {
		s.logger.Warn("Session cache write failed", zap.Error(err))
	}

	s.logger.Info("Login succeeded",
		zap.String("method", method),
		zap.Int("cookies", len(merged)),
	)
	return token, nil
}

// evaluateLogin applies the success heuristics in strict trust order:
// redirect target, page content, session cookie names, then a
// permissive fallback.
func evaluateLogin(resp *resty.Response, cookies []cookiePair) (string, error) {
	status := resp.StatusCode()

	if status >= 300 && status < 400 {
		location := strings.ToLower(resp.Header().Get("Location"))
		if strings.Contains(location, "login") || strings.Contains(location, "error") {
			return "", errors.NewAuthError("redirected back to login", "evaluate", nil)
		}
		for _, signal := range postLoginSignals {
			if strings.Contains(location, signal) {
				return domain.LoginMethodRedirect, nil
			}
		}
	}

	if status == http.StatusOK {
		body := resp.String()
		if !strings.Contains(body, "ログイン") {
			for _, signal := range contentSignals {
				if strings.Contains(body, signal) {
					return domain.LoginMethodContent, nil
				}
			}
		}
	}

	for _, pair := range cookies {
		for _, hint := range sessionCookieHint {
			if strings.Contains(strings.ToLower(pair.name), strings.ToLower(hint)) {
				return domain.LoginMethodCookie, nil
			}
		}
	}

	if status == http.StatusOK && len(joinPairs(cookies)) > constants.SessionConfig.MinCookieLength {
		return domain.LoginMethodFallback, nil
	}

	return "", errors.NewAuthError("no login success signal", "evaluate", nil)
}

type loginForm struct {
	action string
	csrf   string
	hidden map[string]string
}

func parseLoginForm(body []byte, fallbackAction string) (*loginForm, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	form := &loginForm{
		action: fallbackAction,
		hidden: map[string]string{},
	}

	if content, ok := doc.Find(`meta[name="csrf-token"]`).Attr("content"); ok {
		form.csrf = content
	}

	// The login form is the one holding a password input.
	passwordInput := doc.Find(`form input[type="password"]`).First()
	formSel := passwordInput.Closest("form")
	if formSel.Length() == 0 {
		formSel = doc.Find("form").First()
	}
	if formSel.Length() == 0 {
		return form, nil
	}

	if action, ok := formSel.Attr("action"); ok && strings.TrimSpace(action) != "" {
		form.action = strings.TrimSpace(action)
	}

	formSel.Find(`input[type="hidden"]`).Each(func(_ int, sel *goquery.Selection) {
		name, _ := sel.Attr("name")
		if name == "" {
			return
		}
		value, _ := sel.Attr("value")
		form.hidden[name] = value
		if form.csrf == "" {
			for _, csrfName := range csrfFields {
				if name == csrfName {
					form.csrf = value
				}
			}
		}
	})

	return form, nil
}

type cookiePair struct {
	name  string
	value string
}

// setCookiePairs extracts name=value pairs from Set-Cookie headers,
// dropping attributes.
func setCookiePairs(header http.Header) []cookiePair {
	var pairs []cookiePair
	for _, raw := range header.Values("Set-Cookie") {
		segment := strings.SplitN(raw, ";", 2)[0]
		name, value, ok := strings.Cut(strings.TrimSpace(segment), "=")
		if !ok || name == "" {
			continue
		}
		pairs = append(pairs, cookiePair{name: name, value: value})
	}
	return pairs
}

// mergeCookiePairs overlays later sets on earlier ones by cookie name.
func mergeCookiePairs(sets ...[]cookiePair) []cookiePair {
	index := map[string]int{}
	var merged []cookiePair
	for _, set := range sets {
		for _, pair := range set {
			if i, ok := index[pair.name]; ok {
				merged[i] = pair
				continue
			}
			index[pair.name] = len(merged)
			merged = append(merged, pair)
		}
	}
	return merged
}

func joinPairs(pairs []cookiePair) string {
	parts := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		parts = append(parts, pair.name+"="+pair.value)
	}
	return strings.Join(parts, "; ")
}
