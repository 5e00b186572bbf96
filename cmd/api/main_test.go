package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/p2pdesk/p2pdesk-api/internal/config"
	"github.com/p2pdesk/p2pdesk-api/internal/domain/evaluation"
	"github.com/p2pdesk/p2pdesk-api/internal/domain/karma"
	"github.com/p2pdesk/p2pdesk-api/internal/domain/notification"
	"github.com/p2pdesk/p2pdesk-api/internal/domain/operation"
	"github.com/p2pdesk/p2pdesk-api/internal/domain/user"
	"github.com/p2pdesk/p2pdesk-api/internal/middleware"
	"github.com/p2pdesk/p2pdesk-api/internal/pkg/jwt"
)

func TestMountOperationRoutes_RatingDoesNotShadowOperations(t *testing.T) {
	root := chi.NewRouter()

	operations := chi.NewRouter()
	operations.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Router", "operations")
	})
	rating := chi.NewRouter()
	rating.Post("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Router", "rating:"+chi.URLParam(r, "id"))
	})

	func() {
		defer func() {
			if rec := recover(); rec != nil {
				t.Fatalf("mounting operation routes panicked: %v", rec)
			}
		}()
		mountOperationRoutes(root, operations, rating)
	}()

	tests := []struct {
		method, path, want string
	}{
		{http.MethodGet, "/operations/abc", "operations"},
		{http.MethodPost, "/operations/abc/rating", "rating:abc"},
	}
	for _, tt := range tests {
		rr := httptest.NewRecorder()
		root.ServeHTTP(rr, httptest.NewRequest(tt.method, tt.path, nil))
		if got := rr.Header().Get("X-Router"); got != tt.want {
			t.Fatalf("%s %s routed to %q, want %q", tt.method, tt.path, got, tt.want)
		}
	}
}

type app struct {
	router http.Handler
	jwt    *jwt.Service
	hub    *notification.Hub
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	cfg := &config.Config{Env: "test", ReactionCooldown: time.Minute}
	repos := memoryRepositories()

	hub := notification.NewHub(nil, "test")
	t.Cleanup(hub.Shutdown)

	users := user.NewService(repos.users)
	karmaService := karma.NewService(repos.karma, users, newCooldown(nil, cfg))
	gate := evaluation.NewGate(repos.evaluations)
	rater := evaluation.NewRater(gate, repos.evaluations, karmaService, repos.tx)
	ops := operation.NewService(repos.operations, repos.tx, gate, karmaService, notification.NewDispatcher(hub), operation.Options{})

	jwtService := jwt.NewService("test-secret", time.Hour)
	h := handlers{
		operation:  operation.NewHandler(ops),
		evaluation: evaluation.NewHandler(gate, rater),
		karma:      karma.NewHandler(karmaService),
		user:       user.NewHandler(users),
		events:     notification.NewHandler(hub, nil),
	}
	noLimit := func(next http.Handler) http.Handler { return next }

	return &app{
		router: newRouter(cfg, h, middleware.Auth(jwtService), noLimit),
		jwt:    jwtService,
		hub:    hub,
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func (a *app) do(t *testing.T, method, path string, userID int64, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		token, _, err := a.jwt.GenerateAccessToken(userID)
		if err != nil {
			t.Fatalf("token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)

	var env envelope
	_ = json.Unmarshal(rr.Body.Bytes(), &env)
	return rr, env
}

func TestHealth(t *testing.T) {
	a := newTestApp(t)
	rr, _ := a.do(t, http.MethodGet, "/health", 0, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestTradeRequiresRatingBeforeNextOffer(t *testing.T) {
	const (
		seller int64 = 101
		buyer  int64 = 202
	)
	a := newTestApp(t)

	offer := `{"scope_id": -100, "kind": "sell", "assets": ["USDT"], "networks": ["TRC20"],
		"amount": "100", "unit_price": "1.01", "quotation_mode": "manual"}`

	rr, env := a.do(t, http.MethodPost, "/api/v1/operations", seller, offer)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rr.Code, rr.Body.String())
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(env.Data, &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	base := "/api/v1/operations/" + created.ID

	if rr, _ := a.do(t, http.MethodPost, base+"/accept", buyer, ""); rr.Code != http.StatusOK {
		t.Fatalf("accept: %d %s", rr.Code, rr.Body.String())
	}
	if rr, _ := a.do(t, http.MethodPost, base+"/complete", seller, ""); rr.Code != http.StatusOK {
		t.Fatalf("complete: %d %s", rr.Code, rr.Body.String())
	}

	rr, env = a.do(t, http.MethodPost, "/api/v1/operations", seller, offer)
	if rr.Code != http.StatusForbidden || env.Error == nil || env.Error.Code != "EVALUATIONS_PENDING" {
		t.Fatalf("expected pending evaluations, got %d %s", rr.Code, rr.Body.String())
	}

	if rr, _ := a.do(t, http.MethodPost, base+"/rating", seller, `{"stars": 5}`); rr.Code != http.StatusCreated {
		t.Fatalf("rate: %d %s", rr.Code, rr.Body.String())
	}

	if rr, _ := a.do(t, http.MethodPost, "/api/v1/operations", seller, offer); rr.Code != http.StatusCreated {
		t.Fatalf("create after rating: %d %s", rr.Code, rr.Body.String())
	}

	// buyer still owes a rating
	rr, _ = a.do(t, http.MethodGet, "/api/v1/evaluations/pending", buyer, "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), created.ID) {
		t.Fatalf("pending: %d %s", rr.Code, rr.Body.String())
	}

	// neither party ever registered a handle; the rating is still visible by id
	rr, env = a.do(t, http.MethodGet, "/api/v1/karma/lookup?q=202", 0, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("lookup: %d %s", rr.Code, rr.Body.String())
	}
	var standing struct {
		Score int `json:"score"`
	}
	if err := json.Unmarshal(env.Data, &standing); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if standing.Score != 2 {
		t.Fatalf("buyer score = %d, want 2", standing.Score)
	}

	if rr, _ := a.do(t, http.MethodGet, "/api/v1/karma/lookup?q=303", 0, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("lookup without records: %d", rr.Code)
	}
}

func TestRatingRequiresAuth(t *testing.T) {
	a := newTestApp(t)
	rr, _ := a.do(t, http.MethodPost, "/api/v1/operations/00000000-0000-0000-0000-000000000000/rating", 0, `{"stars": 3}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestEventStreamThroughMiddlewareStack(t *testing.T) {
	a := newTestApp(t)
	srv := httptest.NewServer(a.router)
	defer srv.Close()

	token, _, err := a.jwt.GenerateAccessToken(7)
	if err != nil {
		t.Fatal(err)
	}
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for a.hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("stream client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
