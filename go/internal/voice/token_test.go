package voice

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/tavern/go/internal/actor"
)

var t0 = time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)

func TestIssueAndParse(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	issuer := NewIssuer("key", "secret", time.Hour, clock)

	token, err := issuer.Issue("mesa", "p1", "Ana")
	if err != nil {
		t.Fatal(err)
	}
	claims, err := issuer.Parse(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Issuer != "key" || claims.Subject != "p1" || claims.Name != "Ana" {
		t.Fatalf("claims = %+v", claims)
	}
	if claims.Video != (VideoGrant{Room: "mesa", RoomJoin: true, CanPublish: true, CanSubscribe: true}) {
		t.Fatalf("grant = %+v", claims.Video)
	}
	if !claims.ExpiresAt.Time.Equal(t0.Add(time.Hour)) {
		t.Fatalf("exp = %v", claims.ExpiresAt)
	}

	clock.Advance(2 * time.Hour)
	if _, err := issuer.Parse(token); err == nil {
		t.Fatal("expired token parsed")
	}
}

func TestIssueErrors(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	issuer := NewIssuer("key", "secret", 0, clock)
	if _, err := issuer.Issue(" ", "p1", ""); !errors.Is(err, ErrMissingRoom) {
		t.Fatalf("room: %v", err)
	}
	if _, err := issuer.Issue("mesa", "", ""); !errors.Is(err, ErrMissingIdentity) {
		t.Fatalf("identity: %v", err)
	}
	if _, err := NewIssuer("", "", 0, clock).Issue("mesa", "p1", ""); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("unconfigured: %v", err)
	}
}

func TestHandleToken(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	tests := []struct {
		issuer *Issuer
		body   string
		want   int
	}{
		{NewIssuer("key", "secret", 0, clock), `{"room":"mesa"}`, http.StatusOK},
		{NewIssuer("key", "secret", 0, clock), `{"identity":"p1"}`, http.StatusBadRequest},
		{NewIssuer("key", "secret", 0, clock), `nope`, http.StatusBadRequest},
		{NewIssuer("", "", 0, clock), `{"room":"mesa"}`, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/livekit/token", strings.NewReader(tt.body))
		req.Header.Set("X-User-Id", "p1")
		req.Header.Set("X-User-Nick", "Ana")
		rec := httptest.NewRecorder()
		actor.Middleware(http.HandlerFunc(tt.issuer.HandleToken)).ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("%s: code %d, want %d", tt.body, rec.Code, tt.want)
			continue
		}
		if rec.Code != http.StatusOK {
			continue
		}
		var resp tokenResponse
		json.Unmarshal(rec.Body.Bytes(), &resp)
		claims, err := tt.issuer.Parse(resp.Token)
		if err != nil || claims.Subject != "p1" || claims.Name != "Ana" {
			t.Errorf("claims = %+v, %v", claims, err)
		}
	}
}
