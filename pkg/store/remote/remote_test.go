package remote_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/medlingo/internal/roomserver"
	"github.com/MrWong99/medlingo/pkg/store"
	"github.com/MrWong99/medlingo/pkg/store/memstore"
	"github.com/MrWong99/medlingo/pkg/store/remote"
	"github.com/MrWong99/medlingo/pkg/store/storetest"
)

// startServer runs a room server over a fresh memstore.
func startServer(t *testing.T) (*httptest.Server, *memstore.Store) {
	t.Helper()
	ms := memstore.New()
	mux := http.NewServeMux()
	roomserver.New(ms).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	t.Cleanup(ms.Close)
	return srv, ms
}

func TestClient(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		srv, _ := startServer(t)
		return remote.New(srv.URL, remote.WithReconnectBackoff(10*time.Millisecond))
	})
}

func TestClient_ErrorDetailSurvives(t *testing.T) {
	srv, _ := startServer(t)
	c := remote.New(srv.URL)
	ctx := context.Background()

	_, err := c.CreateRoom(ctx, store.Participant{})
	if !errors.Is(err, store.ErrInvalidParticipant) {
		t.Fatalf("err = %v, want ErrInvalidParticipant", err)
	}
	if got, want := err.Error(), "store: invalid participant: missing id"; got != want {
		t.Errorf("message = %q, want %q", got, want)
	}
}

func TestClient_UnreachableServer(t *testing.T) {
	srv, _ := startServer(t)
	url := srv.URL
	srv.Close()

	c := remote.New(url)
	_, err := c.GetRoom(context.Background(), "ABCDEF")
	if err == nil || errors.Is(err, store.ErrRoomNotFound) {
		t.Fatalf("err = %v, want transport error", err)
	}
}

func TestClient_SubscriptionSeesOtherClient(t *testing.T) {
	srv, _ := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	doctor := remote.New(srv.URL)
	patient := remote.New(srv.URL)

	room, err := doctor.CreateRoom(ctx, store.Participant{ID: "dr", Name: "Dr. Lee", Role: store.RoleDoctor})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	roster, err := doctor.SubscribeRoster(ctx, room.Code)
	if err != nil {
		t.Fatalf("SubscribeRoster: %v", err)
	}
	storetest.Await(t, roster, func(r store.Room) bool { return len(r.Participants) == 1 })

	if _, err := patient.JoinRoom(ctx, room.Code, store.Participant{ID: "pt", Name: "Ana"}); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	got := storetest.Await(t, roster, func(r store.Room) bool { return len(r.Participants) == 2 })
	if p, _ := got.Participant("pt"); p.Role != store.RolePatient {
		t.Errorf("patient role = %q", p.Role)
	}
}

func TestClient_StatusOnlyErrors(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, store.ErrRoomNotFound},
		{http.StatusConflict, store.ErrRoomFull},
		{http.StatusGone, store.ErrRoomEnded},
	}
	for _, tc := range tests {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			_, err := remote.New(srv.URL).GetRoom(context.Background(), "ABCDEF")
			if !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
}
