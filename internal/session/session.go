package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"dhlotto/internal/resilience"
	"dhlotto/internal/rsakey"
	"dhlotto/internal/session/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Единственная на процесс аутентифицированная сессия оператора.
// Все обращения к оператору идут через нее и сериализуются мьютексом:
// параллельная работа двух запросов на одной сессии небезопасна.

type State string

const (
	StateLoggedOut      State = "LOGGED_OUT"
	StateAuthenticating State = "AUTHENTICATING"
	StateActive         State = "ACTIVE"
	StateInvalid        State = "INVALID"
)

var (
	ErrAuthentication = errors.New("authentication failed")
	// ErrAuthRequired - ответ оператора требует логина (истекшая сессия)
	ErrAuthRequired = errors.New("authentication required")
	// ErrParse - страница/схема оператора не содержит ожидаемых полей
	ErrParse = errors.New("unexpected upstream response")
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) " +
	"Chrome/143.0.0.0 Safari/537.36"

type Session interface {
	EnsureActive(ctx context.Context) error
	State() State
	// GetJSON - запрос без логина, ответ в конверте {"data": ...}
	GetJSON(ctx context.Context, path string, params map[string]string, out any) error
	// GetJSONAuthed - то же, но с активной сессией и одной
	// повторной аутентификацией при истечении
	GetJSONAuthed(ctx context.Context, path string, params map[string]string, out any) error
	// PostFormAuthed - POST формы по абсолютному URL, плоский JSON-ответ.
	// Повторного логина нет: вызывающий сам решает судьбу сессии.
	PostFormAuthed(ctx context.Context, url string, form map[string]string, out any) error
	Invalidate()
	Reset()
}

type session struct {
	cfg     config.Config
	zaplog  *zap.Logger
	breaker *resilience.Breaker

	mu              sync.Mutex
	rc              *resty.Client
	state           State
	establishedAt   time.Time
	lastValidatedAt time.Time
	now             func() time.Time
}

func NewSession(cfg config.Config, zaplog *zap.Logger) Session {
	return &session{
		cfg:     cfg,
		zaplog:  zaplog,
		breaker: resilience.NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		rc:      newHTTPClient(cfg),
		state:   StateLoggedOut,
		now:     time.Now,
	}
}

func newHTTPClient(cfg config.Config) *resty.Client {
	return resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.CallTimeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWaitTime).
		SetRetryMaxWaitTime(cfg.RetryMaxWaitTime).
		AddRetryCondition(resilience.RetryCondition).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept-Language", "ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7").
		SetHeader("Referer", cfg.BaseURL+"/login")
}

func (s *session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) EnsureActive(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureActiveLocked(ctx)
}

func (s *session) ensureActiveLocked(ctx context.Context) error {
	switch s.state {
	case StateActive:
		return nil
	case StateInvalid:
		// документированный путь восстановления: полный сброс,
		// затем логин с нуля
		s.resetLocked()
	}
	return s.loginLocked(ctx)
}

func (s *session) loginLocked(ctx context.Context) error {
	s.state = StateAuthenticating

	if err := s.breaker.Allow(); err != nil {
		s.state = StateLoggedOut
		return err
	}

	err := s.loginAttempt(ctx)
	if err != nil {
		s.breaker.Failure()
		s.state = StateLoggedOut
		return err
	}

	s.breaker.Success()
	s.state = StateActive
	s.establishedAt = s.now()
	s.lastValidatedAt = s.establishedAt
	s.zaplog.Info("login successful")
	return nil
}

func (s *session) loginAttempt(ctx context.Context) error {
	// ключ короткоживущий: на каждую попытку запрашивается заново
	km, err := rsakey.Acquire(ctx, s.rc, s.zaplog)
	if err != nil {
		return err
	}

	encID, err := rsakey.Encrypt(km, s.cfg.Username)
	if err != nil {
		return err
	}
	encPw, err := rsakey.Encrypt(km, s.cfg.Password)
	if err != nil {
		return err
	}

	resp, err := s.rc.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"userId":       encID,
			"userPswdEncn": encPw,
			"inpUserId":    s.cfg.Username,
		}).
		Post("/login/securityLoginCheck.do")
	if err != nil {
		return classifyNetErr(err)
	}

	finalURL := finalRequestURL(resp)
	body := resp.String()
	s.zaplog.Info("login response",
		zap.Int("status", resp.StatusCode()),
		zap.String("final_url", finalURL),
	)

	if resp.StatusCode() == http.StatusOK && loginSucceeded(finalURL, body) {
		s.ensureMainModeNormal(ctx)
		return nil
	}

	if locked := accountLocked(body); locked {
		return fmt.Errorf("%w: account locked", ErrAuthentication)
	}
	return fmt.Errorf("%w: final url %s", ErrAuthentication, finalURL)
}

// Успех логина - дизъюнкция сигналов: маркер в теле ИЛИ конечный
// редирект в аутентифицированную зону. Оператор периодически меняет
// один из сигналов, одиночная проверка дает ложные отказы.
func loginSucceeded(finalURL, body string) bool {
	if strings.Contains(finalURL, "loginSuccess.do") {
		return true
	}
	if strings.Contains(finalURL, "/mypage") || strings.Contains(finalURL, "/userSsl.do") {
		return true
	}
	return strings.Contains(body, "loginSuccess")
}

func accountLocked(body string) bool {
	return strings.Contains(body, "잠금") || strings.Contains(body, "locked")
}

// ensureMainModeNormal закрепляет за сессией обычный режим страниц
// (mainMode=N). В упрощенном режиме (mainMode=Y) часть API отвечает
// несовместимой разметкой. Best effort.
func (s *session) ensureMainModeNormal(ctx context.Context) {
	resp, err := s.rc.R().
		SetContext(ctx).
		SetQueryParam("mainMode", "N").
		Get("/main")
	if err != nil {
		s.zaplog.Warn("failed to ensure main mode normal", zap.Error(err))
		return
	}
	finalURL := strings.ToLower(finalRequestURL(resp))
	if !strings.Contains(finalURL, "mainmode=y") {
		return
	}

	// оператор уводит редиректом в упрощенный режим: повторяем запрос
	// без следования редиректам, чтобы cookie режима легла на mainMode=N
	s.zaplog.Warn("operator redirected to simplified page mode, pinning normal mode",
		zap.String("final_url", finalURL))
	noRedirect := &http.Client{
		Jar:     s.rc.GetClient().Jar,
		Timeout: s.cfg.CallTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"/main?mainMode=N", nil)
	if err != nil {
		return
	}
	req.Header.Set("User-Agent", userAgent)
	pinResp, err := noRedirect.Do(req)
	if err != nil {
		s.zaplog.Warn("failed to pin normal page mode", zap.Error(err))
		return
	}
	pinResp.Body.Close()
}

func (s *session) GetJSON(ctx context.Context, path string, params map[string]string, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getJSON(ctx, path, params, out, false)
}

func (s *session) GetJSONAuthed(ctx context.Context, path string, params map[string]string, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureActiveLocked(ctx); err != nil {
		return err
	}

	err := s.getJSON(ctx, path, params, out, true)
	if errors.Is(err, ErrAuthRequired) {
		// ленивое обнаружение истечения: один повторный логин,
		// затем один повтор исходного вызова
		s.zaplog.Info("session expired, re-authenticating", zap.String("path", path))
		if lerr := s.loginLocked(ctx); lerr != nil {
			return lerr
		}
		err = s.getJSON(ctx, path, params, out, true)
		if errors.Is(err, ErrAuthRequired) {
			return fmt.Errorf("%w: still unauthorized after re-login", ErrAuthentication)
		}
	}
	if err == nil {
		s.lastValidatedAt = s.now()
	}
	return err
}

func (s *session) PostFormAuthed(ctx context.Context, url string, form map[string]string, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureActiveLocked(ctx); err != nil {
		return err
	}

	resp, err := s.rc.R().
		SetContext(ctx).
		SetFormData(form).
		Post(url)
	if err != nil {
		return classifyNetErr(err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("%w: post status %d", ErrParse, resp.StatusCode())
	}
	if isHTML(resp) {
		return fmt.Errorf("%w: html instead of json", ErrAuthRequired)
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("%w: %v", ErrParse, err)
	}
	s.lastValidatedAt = s.now()
	return nil
}

type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// getJSON выполняет GET и разбирает конверт. HTML или редирект на логин
// для вызова под сессией означают ее истечение; на публичном вызове
// логина нет и терять нечего - это смена схемы/страница обслуживания
func (s *session) getJSON(ctx context.Context, path string, params map[string]string, out any, authed bool) error {
	resp, err := s.rc.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(path)
	if err != nil {
		return classifyNetErr(err)
	}

	finalURL := finalRequestURL(resp)
	if strings.Contains(finalURL, "/login") {
		if authed {
			return fmt.Errorf("%w: redirected to login", ErrAuthRequired)
		}
		return fmt.Errorf("%w: redirected to login", ErrParse)
	}
	if isHTML(resp) {
		if authed {
			return fmt.Errorf("%w: html instead of json", ErrAuthRequired)
		}
		return fmt.Errorf("%w: html instead of json", ErrParse)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("%w: api status %d", ErrParse, resp.StatusCode())
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		return fmt.Errorf("%w: %v", ErrParse, err)
	}
	// нет поля data - упрощенная страница или смена схемы;
	// нули вместо ошибки отдавать нельзя
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return fmt.Errorf("%w: no data field in response", ErrParse)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrParse, err)
	}
	return nil
}

func (s *session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zaplog.Warn("session explicitly invalidated")
	s.state = StateInvalid
}

func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

// resetLocked отбрасывает cookie и весь клиент целиком: залипшая
// сессия не должна тихо пережить сброс
func (s *session) resetLocked() {
	s.rc = newHTTPClient(s.cfg)
	s.state = StateLoggedOut
	s.establishedAt = time.Time{}
	s.lastValidatedAt = time.Time{}
	s.zaplog.Info("session reset")
}

func finalRequestURL(resp *resty.Response) string {
	if resp.RawResponse != nil && resp.RawResponse.Request != nil && resp.RawResponse.Request.URL != nil {
		return resp.RawResponse.Request.URL.String()
	}
	return resp.Request.URL
}

func isHTML(resp *resty.Response) bool {
	return strings.Contains(resp.Header().Get("Content-Type"), "text/html")
}

func classifyNetErr(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", resilience.ErrNetworkTimeout, err)
}
