package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"planwise/api/internal/status"
	"planwise/api/internal/store"
	"planwise/api/internal/workflow"
)

func newTestServer(fs *fakeStore) *httptest.Server {
	return httptest.NewServer(NewHTTPServer(newTestService(fs), "*").Handler())
}

func loginAs(t *testing.T, server *httptest.Server, name string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"name": name})
	resp, err := http.Post(server.URL+"/api/session/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login returned %d", resp.StatusCode)
	}
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if payload.Token == "" {
		t.Fatal("expected a session token")
	}
	return payload.Token
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(&fakeStore{})
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	server := newTestServer(&fakeStore{})
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/projects")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestStatusCatalogReturnsGermanLabels(t *testing.T) {
	server := newTestServer(&fakeStore{})
	defer server.Close()
	token := loginAs(t, server, "Franziska")

	resp := doJSON(t, http.MethodGet, server.URL+"/api/status-details?kind=commitment", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var payload struct {
		Statuses []struct {
			Value   string   `json:"value"`
			Name    string   `json:"name"`
			Targets []string `json:"targets"`
		} `json:"statuses"`
	}
	decodeInto(t, resp, &payload)

	if len(payload.Statuses) != 3 {
		t.Fatalf("expected 3 commitment statuses, got %d", len(payload.Statuses))
	}
	wantNames := map[string]string{
		"suggested": "Vorgeschlagen",
		"accepted":  "Angenommen",
		"completed": "Abgeschlossen",
	}
	for _, item := range payload.Statuses {
		if wantNames[item.Value] != item.Name {
			t.Fatalf("status %s: expected %q, got %q", item.Value, wantNames[item.Value], item.Name)
		}
	}
}

func TestCreatePlanningViaHTTP(t *testing.T) {
	server := newTestServer(&fakeStore{})
	defer server.Close()
	token := loginAs(t, server, "Franziska")

	resp := doJSON(t, http.MethodPost, server.URL+"/api/projects/prj_1/plannings", token, map[string]string{
		"title": "Q3 Planung",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var payload map[string]any
	decodeInto(t, resp, &payload)

	if payload["title"] != "Q3 Planung" {
		t.Fatalf("expected title Q3 Planung, got %v", payload["title"])
	}
	if payload["status"] != status.PlanningInPlanning {
		t.Fatalf("expected default status in-planning, got %v", payload["status"])
	}
	details, ok := payload["statusDetails"].(map[string]any)
	if !ok || details["name"] != "In Planung" {
		t.Fatalf("expected label In Planung, got %v", payload["statusDetails"])
	}
}

func TestCreatorVoteRejectedViaHTTP(t *testing.T) {
	fs := &fakeStore{
		getPlanningFn: func(_ context.Context, planningID string) (store.Planning, error) {
			return store.Planning{ID: planningID, CreatedBy: "usr_fake", OwnerID: "usr_fake"}, nil
		},
	}
	server := newTestServer(fs)
	defer server.Close()
	token := loginAs(t, server, "Franziska")

	resp := doJSON(t, http.MethodPost, server.URL+"/api/plannings/pln_1/votes", token, map[string]any{
		"featureId": "fea_1",
		"voteType":  "BUSINESS_VALUE",
		"value":     5,
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	var payload struct {
		Code string `json:"code"`
	}
	decodeInto(t, resp, &payload)
	if payload.Code != "CREATOR_VOTE_DERIVED" {
		t.Fatalf("expected CREATOR_VOTE_DERIVED, got %s", payload.Code)
	}
}

func TestInvalidTransitionViaHTTP(t *testing.T) {
	fs := &fakeStore{
		entityStatusFn: func(_ context.Context, ref workflow.EntityRef) (string, error) {
			return status.FeatureRejected, nil
		},
	}
	server := newTestServer(fs)
	defer server.Close()
	token := loginAs(t, server, "Franziska")

	resp := doJSON(t, http.MethodPost, server.URL+"/api/features/fea_1/transition", token, map[string]string{
		"status": status.FeatureApproved,
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	var payload struct {
		Code    string `json:"code"`
		Details struct {
			Current   string   `json:"current"`
			Requested string   `json:"requested"`
			Allowed   []string `json:"allowed"`
		} `json:"details"`
	}
	decodeInto(t, resp, &payload)
	if payload.Code != "INVALID_TRANSITION" {
		t.Fatalf("expected INVALID_TRANSITION, got %s", payload.Code)
	}
	if payload.Details.Current != status.FeatureRejected {
		t.Fatalf("expected current rejected, got %s", payload.Details.Current)
	}
	if len(payload.Details.Allowed) != 0 {
		t.Fatalf("rejected is terminal, expected no allowed targets, got %v", payload.Details.Allowed)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	server := newTestServer(&fakeStore{})
	defer server.Close()
	token := loginAs(t, server, "Franziska")

	resp := doJSON(t, http.MethodGet, server.URL+"/api/session", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var payload struct {
		Authenticated bool   `json:"authenticated"`
		UserName      string `json:"userName"`
	}
	decodeInto(t, resp, &payload)
	if !payload.Authenticated {
		t.Fatal("expected authenticated session")
	}
	if payload.UserName == "" {
		t.Fatal("expected a user name")
	}
}

func TestStatusCatalogRejectsUnknownKind(t *testing.T) {
	server := newTestServer(&fakeStore{})
	defer server.Close()
	token := loginAs(t, server, "Franziska")

	resp := doJSON(t, http.MethodGet, server.URL+"/api/status-details?kind=rocket", token, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
}

func TestOccupancyRejectsBadDate(t *testing.T) {
	server := newTestServer(&fakeStore{})
	defer server.Close()
	token := loginAs(t, server, "Franziska")

	url := fmt.Sprintf("%s/api/projects/prj_1/occupancy?date=%s", server.URL, "31.12.2026")
	resp := doJSON(t, http.MethodGet, url, token, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
}
