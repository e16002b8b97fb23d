package session

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"dhlotto/internal/resilience"
	"dhlotto/internal/session/config"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeOperator имитирует сайт оператора: выдача ключа, логин с
// редиректом, один JSON-эндпоинт за логином.
type fakeOperator struct {
	mu          sync.Mutex
	modulus     string
	exponent    string
	rejectLogin bool
	loggedIn    bool
	loginCalls  int
	apiCalls    int
}

func newFakeOperator(t *testing.T) (*fakeOperator, *httptest.Server) {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)

	op := &fakeOperator{
		modulus:  priv.N.Text(16),
		exponent: fmt.Sprintf("%x", priv.E),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/login/selectRsaModulus.do", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"data":{"rsaModulus":"%s","publicExponent":"%s"}}`, op.modulus, op.exponent)
	})
	mux.HandleFunc("/login/securityLoginCheck.do", func(w http.ResponseWriter, r *http.Request) {
		op.mu.Lock()
		op.loginCalls++
		reject := op.rejectLogin
		if !reject {
			op.loggedIn = true
		}
		op.mu.Unlock()

		if reject {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		http.Redirect(w, r, "/mypage/home", http.StatusFound)
	})
	mux.HandleFunc("/mypage/home", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html>mypage</html>")
	})
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html>login page</html>")
	})
	mux.HandleFunc("/main", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html>main</html>")
	})
	mux.HandleFunc("/mypage/selectUserMndp.do", func(w http.ResponseWriter, r *http.Request) {
		op.mu.Lock()
		op.apiCalls++
		loggedIn := op.loggedIn
		op.mu.Unlock()

		if !loggedIn {
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, "<html>login required</html>")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":{"userMndp":{"crntEntrsAmt":5000}}}`)
	})
	mux.HandleFunc("/nodata.do", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"result":"ok"}`)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return op, srv
}

func testConfig(url string) config.Config {
	return config.Config{
		BaseURL:          url,
		Username:         "user01",
		Password:         "secret",
		CallTimeout:      5 * time.Second,
		BreakerThreshold: 3,
		BreakerCooldown:  time.Minute,
	}
}

func TestLoginSuccessByRedirect(t *testing.T) {
	_, srv := newFakeOperator(t)

	s := NewSession(testConfig(srv.URL), zap.NewNop())
	require.Equal(t, StateLoggedOut, s.State())

	require.NoError(t, s.EnsureActive(context.Background()))
	require.Equal(t, StateActive, s.State())
}

func TestLoginRejected(t *testing.T) {
	op, srv := newFakeOperator(t)
	op.rejectLogin = true

	s := NewSession(testConfig(srv.URL), zap.NewNop())
	err := s.EnsureActive(context.Background())
	require.ErrorIs(t, err, ErrAuthentication)
	require.Equal(t, StateLoggedOut, s.State())
}

func TestBreakerStopsLoginAttempts(t *testing.T) {
	op, srv := newFakeOperator(t)
	op.rejectLogin = true

	cfg := testConfig(srv.URL)
	s := NewSession(cfg, zap.NewNop())

	for i := 0; i < cfg.BreakerThreshold; i++ {
		require.ErrorIs(t, s.EnsureActive(context.Background()), ErrAuthentication)
	}
	require.Equal(t, cfg.BreakerThreshold, op.loginCalls)

	// цепь разомкнута: попытка отклоняется без сетевого вызова
	err := s.EnsureActive(context.Background())
	require.ErrorIs(t, err, resilience.ErrCircuitOpen)
	require.Equal(t, cfg.BreakerThreshold, op.loginCalls)
}

func TestExpiredSessionRecoveredOnce(t *testing.T) {
	op, srv := newFakeOperator(t)

	s := NewSession(testConfig(srv.URL), zap.NewNop())
	require.NoError(t, s.EnsureActive(context.Background()))
	require.Equal(t, 1, op.loginCalls)

	// сессия истекла на стороне оператора
	op.mu.Lock()
	op.loggedIn = false
	op.apiCalls = 0
	op.mu.Unlock()

	var out struct {
		UserMndp struct {
			CrntEntrsAmt int64 `json:"crntEntrsAmt"`
		} `json:"userMndp"`
	}
	err := s.GetJSONAuthed(context.Background(), "/mypage/selectUserMndp.do", nil, &out)
	require.NoError(t, err)
	require.Equal(t, int64(5000), out.UserMndp.CrntEntrsAmt)

	// ровно один повторный логин и ровно один повтор вызова
	require.Equal(t, 2, op.loginCalls)
	require.Equal(t, 2, op.apiCalls)
	require.Equal(t, StateActive, s.State())
}

func TestPublicEndpointHTMLIsParseError(t *testing.T) {
	op, srv := newFakeOperator(t)

	s := NewSession(testConfig(srv.URL), zap.NewNop())

	// страница обслуживания на публичном эндпоинте: логина не было,
	// чинить нечего - это не истечение сессии
	err := s.GetJSON(context.Background(), "/main", nil, nil)
	require.ErrorIs(t, err, ErrParse)
	require.NotErrorIs(t, err, ErrAuthRequired)
	require.Equal(t, 0, op.loginCalls)
}

func TestMissingDataFieldIsParseError(t *testing.T) {
	_, srv := newFakeOperator(t)

	s := NewSession(testConfig(srv.URL), zap.NewNop())
	err := s.GetJSONAuthed(context.Background(), "/nodata.do", nil, nil)
	require.ErrorIs(t, err, ErrParse)
}

func TestInvalidateForcesFreshLogin(t *testing.T) {
	op, srv := newFakeOperator(t)

	s := NewSession(testConfig(srv.URL), zap.NewNop())
	require.NoError(t, s.EnsureActive(context.Background()))

	s.Invalidate()
	require.Equal(t, StateInvalid, s.State())

	require.NoError(t, s.EnsureActive(context.Background()))
	require.Equal(t, StateActive, s.State())
	require.Equal(t, 2, op.loginCalls)
}
