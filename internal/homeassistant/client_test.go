package homeassistant

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClient_GetStates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		if r.URL.Path != "/api/states" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`[
			{"entity_id":"light.kitchen","state":"on","attributes":{"friendly_name":"Kitchen Light"}},
			{"entity_id":"sensor.temp","state":"21.5","attributes":{}}
		]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "tok", nil)
	states, err := c.GetStates(t.Context())
	if err != nil {
		t.Fatalf("GetStates: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("len = %d, want 2", len(states))
	}
	if states[0].FriendlyName() != "Kitchen Light" {
		t.Errorf("friendly name = %q", states[0].FriendlyName())
	}
	if states[0].Domain() != "light" {
		t.Errorf("domain = %q", states[0].Domain())
	}
	if states[1].FriendlyName() != "" {
		t.Errorf("missing friendly name = %q, want empty", states[1].FriendlyName())
	}
}

func TestClient_Reload(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	if err := NewClient(srv.URL, "tok", nil).Reload(t.Context()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if gotPath != "/api/services/automation/reload" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestClient_FireEvent(t *testing.T) {
	var body map[string]any
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &body)
		w.Write([]byte(`{"message":"Event nag_automation_generated fired."}`))
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "tok", nil).FireEvent(t.Context(), "nag_automation_generated", map[string]any{"alias": "x"})
	if err != nil {
		t.Fatalf("FireEvent: %v", err)
	}
	if gotPath != "/api/events/nag_automation_generated" {
		t.Errorf("path = %q", gotPath)
	}
	if body["alias"] != "x" {
		t.Errorf("body = %v", body)
	}
}

func TestClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("401: Unauthorized"))
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "bad", nil).Ping(t.Context())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error %q missing status", err)
	}
}

func TestClient_Ping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":"API running."}`))
	}))
	defer srv.Close()

	if err := NewClient(srv.URL, "tok", nil).Ping(t.Context()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
