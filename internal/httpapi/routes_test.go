package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/battle-live-backend/internal/auth"
	"github.com/DoyleJ11/battle-live-backend/internal/battle"
	"github.com/DoyleJ11/battle-live-backend/internal/broadcast"
	"github.com/DoyleJ11/battle-live-backend/internal/engine"
	"github.com/DoyleJ11/battle-live-backend/internal/hub"
	"github.com/DoyleJ11/battle-live-backend/internal/registry"
	"github.com/DoyleJ11/battle-live-backend/internal/song"
	"github.com/DoyleJ11/battle-live-backend/internal/store/memstore"
)

type downProvider struct{}

func (downProvider) Submit(context.Context, string, string) (string, error) {
	return "", errors.New("connection refused")
}

func (downProvider) Poll(context.Context, string) (song.PollResult, error) {
	return song.PollResult{}, errors.New("connection refused")
}

type server struct {
	*httptest.Server
	jwt *auth.JWT
}

func newServer(t *testing.T) *server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	log := zap.NewNop()
	st := memstore.New()
	reg := registry.New()
	h := hub.NewHub(ctx, hub.Config{Store: st, Publisher: broadcast.New(reg, st, log), Log: log})
	svc := battle.NewService(h, st, auth.ContextAuthorizer{}, auth.ClaimProfiles{}, reg, log)
	tr := song.NewTracker(h, st, downProvider{}, song.Config{PollTimeout: 50 * time.Millisecond}, log)
	j := auth.NewJWT("test-secret")

	srv := httptest.NewServer(SetupRoutes(Deps{
		Battles:      svc,
		Songs:        tr,
		Auth:         j,
		Live:         http.NotFoundHandler(),
		Log:          log,
		MaxBodyBytes: 1 << 20,
	}))
	t.Cleanup(srv.Close)
	return &server{Server: srv, jwt: j}
}

func (s *server) token(t *testing.T, user string, roles ...string) string {
	t.Helper()
	tok, err := s.jwt.Issue(auth.Identity{UserID: user, Roles: roles}, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *server) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.URL+path, rdr)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func (s *server) create(t *testing.T, owner string) engine.Battle {
	t.Helper()
	resp, body := s.do(t, http.MethodPost, "/battles", owner, map[string]any{
		"title": "Clash", "participantA": "p1", "participantB": "p2",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var b engine.Battle
	require.NoError(t, json.Unmarshal(body, &b))
	return b
}

func TestHealthz(t *testing.T) {
	s := newServer(t)
	resp, _ := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = s.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLifecycle_StatusMapping(t *testing.T) {
	s := newServer(t)
	owner := s.token(t, "owner")
	fan := s.token(t, "fan")
	admin := s.token(t, "root", auth.RoleAdmin)

	resp, _ := s.do(t, http.MethodPost, "/battles", "", map[string]any{"title": "x"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/battles", "Bearer-less", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	b := s.create(t, owner)
	base := "/battles/" + b.ID

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		want   int
	}{
		{"start from draft", http.MethodPost, "/live/start", owner, nil, http.StatusBadRequest},
		{"fan marks ready", http.MethodPost, "/ready", fan, nil, http.StatusForbidden},
		{"ready", http.MethodPost, "/ready", owner, nil, http.StatusOK},
		{"start", http.MethodPost, "/live/start", owner, nil, http.StatusOK},
		{"start twice", http.MethodPost, "/live/start", owner, nil, http.StatusBadRequest},
		{"vote", http.MethodPost, "/votes", fan, map[string]any{"round": 1, "participantId": "p1"}, http.StatusOK},
		{"vote unopened round", http.MethodPost, "/votes", fan, map[string]any{"round": 3, "participantId": "p1"}, http.StatusConflict},
		{"vote unknown field", http.MethodPost, "/votes", fan, `{"round":1,"participantId":"p1","x":1}`, http.StatusBadRequest},
		{"comment", http.MethodPost, "/comments", fan, map[string]any{"body": "fire"}, http.StatusCreated},
		{"advance incomplete", http.MethodPost, "/rounds/advance", owner, nil, http.StatusConflict},
		{"content bad round", http.MethodPost, "/rounds/x/content", owner, map[string]any{"participantId": "p1", "content": "a"}, http.StatusBadRequest},
		{"content", http.MethodPost, "/rounds/1/content", owner, map[string]any{"participantId": "p1", "content": "a"}, http.StatusOK},
		{"toggle without value", http.MethodPut, "/voting", owner, map[string]any{}, http.StatusBadRequest},
		{"toggle voting", http.MethodPut, "/voting", owner, map[string]any{"enabled": false}, http.StatusOK},
		{"vote while closed", http.MethodPost, "/votes", fan, map[string]any{"round": 1, "participantId": "p2"}, http.StatusConflict},
		{"visibility private owner", http.MethodPut, "/visibility", owner, map[string]any{"public": true}, http.StatusBadRequest},
		{"stop by owner", http.MethodPost, "/live/stop", owner, nil, http.StatusForbidden},
		{"stop by admin", http.MethodPost, "/live/stop", admin, nil, http.StatusOK},
		{"sync", http.MethodGet, "/sync", "", nil, http.StatusOK},
	}
	for _, tc := range cases {
		resp, body := s.do(t, tc.method, base+tc.path, tc.token, tc.body)
		assert.Equal(t, tc.want, resp.StatusCode, "%s: %s", tc.name, body)
		if tc.want >= 400 {
			assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"), tc.name)
		}
	}

	resp, _ = s.do(t, http.MethodGet, "/battles/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = s.do(t, http.MethodDelete, base, owner, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = s.do(t, http.MethodGet, base, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSongEndpoints(t *testing.T) {
	s := newServer(t)
	owner := s.token(t, "owner")
	b := s.create(t, owner)
	base := "/battles/" + b.ID

	resp, _ := s.do(t, http.MethodPost, base+"/song", owner, map[string]any{"prompt": "a song"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, base+"/song", s.token(t, "fan"), map[string]any{"prompt": "a song"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = s.do(t, http.MethodGet, base+"/song/status?taskId=t1", owner, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "no job tracked")

	resp, _ = s.do(t, http.MethodPost, base+"/song/complete", owner, map[string]any{"taskId": "t1", "audioUrl": "https://x/a.mp3"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/webhooks/song", "", `{"taskId":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := s.do(t, http.MethodPost, "/webhooks/song", "", `{"taskId":"ghost","status":"complete","audio_url":"https://x/a.mp3"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"received":true,"applied":false}`, string(body))
}

func TestOversizedBody_Is413(t *testing.T) {
	s := newServer(t)
	owner := s.token(t, "owner")
	big := `{"taskId":"` + strings.Repeat("a", 1<<20) + `"}`

	resp, _ := s.do(t, http.MethodPost, "/webhooks/song", "", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))

	resp, _ = s.do(t, http.MethodPost, "/battles", owner, `{"title":"`+strings.Repeat("a", 1<<20)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}
