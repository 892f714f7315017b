package http_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	httptransport "hail/internal/http"
	"hail/internal/ingest"
	"hail/internal/modules/dispatch"
	"hail/internal/modules/fleet"
	"hail/internal/modules/trip"
	"hail/internal/sched"
	"hail/internal/store"
	"hail/internal/ws"
)

func buildTestRouter(t *testing.T) http.Handler {
	t.Helper()
	log := zerolog.Nop()
	st := store.NewMemory()

	registry := sched.NewRegistry(log)
	scheduler := sched.NewMemory(registry)
	t.Cleanup(scheduler.Close)

	hub := ws.NewHub(log)
	engine := dispatch.NewEngine(st, scheduler, dispatch.Config{}, hub, log)
	engine.RegisterHandlers(registry)

	return httptransport.NewRouter(httptransport.RouterDeps{
		Trips:     trip.NewService(st, engine, log),
		Drivers:   fleet.NewService(st),
		Locations: ingest.NewService(st, nil),
		Engine:    engine,
		Hub:       hub,
		Log:       log,
	})
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return m
}

func TestRideFlow(t *testing.T) {
	r := buildTestRouter(t)

	// Onboard a driver and bring them online.
	w := doJSON(t, r, http.MethodPost, "/api/drivers", map[string]any{"vehicle_class": "economy"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create driver: %d %s", w.Code, w.Body.String())
	}
	driverID := decode(t, w)["id"].(string)

	w = doJSON(t, r, http.MethodPut, "/api/drivers/"+driverID+"/status", map[string]any{"online_status": "online"})
	if w.Code != http.StatusOK {
		t.Fatalf("go online: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodPut, "/api/drivers/"+driverID+"/location", map[string]any{"lat": 25.0335, "lng": 121.5650})
	if w.Code != http.StatusAccepted {
		t.Fatalf("report location: %d %s", w.Code, w.Body.String())
	}

	// Request a ride; dispatch runs inline and offers to the driver.
	w = doJSON(t, r, http.MethodPost, "/api/trips", map[string]any{
		"rider_id": "r1",
		"pickup":   map[string]any{"lat": 25.0330, "lng": 121.5654},
		"dropoff":  map[string]any{"lat": 25.0478, "lng": 121.5170},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create trip: %d %s", w.Code, w.Body.String())
	}
	tripBody := decode(t, w)
	tripID := tripBody["id"].(string)
	if tripBody["status"] != "searching" {
		t.Fatalf("expected searching, got %v", tripBody["status"])
	}

	w = doJSON(t, r, http.MethodGet, "/api/drivers/"+driverID+"/offers", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list offers: %d %s", w.Code, w.Body.String())
	}
	offers := decode(t, w)["offers"].([]any)
	if len(offers) != 1 {
		t.Fatalf("expected 1 offer, got %d", len(offers))
	}
	assignmentID := offers[0].(map[string]any)["assignment_id"].(string)

	w = doJSON(t, r, http.MethodPost, "/api/offers/"+assignmentID+"/accept", map[string]any{"driver_id": driverID})
	if w.Code != http.StatusOK {
		t.Fatalf("accept: %d %s", w.Code, w.Body.String())
	}
	if got := decode(t, w)["status"]; got != "matched" {
		t.Fatalf("expected matched, got %v", got)
	}

	w = doJSON(t, r, http.MethodGet, "/api/trips/"+tripID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get trip: %d %s", w.Code, w.Body.String())
	}
	got := decode(t, w)
	if got["status"] != "matched" || got["driver_id"] != driverID {
		t.Fatalf("trip not matched to driver: %v", got)
	}

	// Progress through to completion.
	for _, status := range []string{"driver_arrived", "picked_up", "in_transit", "completed"} {
		w = doJSON(t, r, http.MethodPost, "/api/trips/"+tripID+"/progress", map[string]any{"status": status})
		if w.Code != http.StatusOK {
			t.Fatalf("progress to %s: %d %s", status, w.Code, w.Body.String())
		}
	}

	w = doJSON(t, r, http.MethodGet, "/api/drivers/"+driverID, nil)
	if got := decode(t, w)["online_status"]; got != "online" {
		t.Fatalf("driver not released after completion: %v", got)
	}
}

func TestTripErrors(t *testing.T) {
	r := buildTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/trips/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/api/trips", map[string]any{"rider_id": "r1"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing waypoints, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/trips", bytes.NewBufferString("{nope"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad json, got %d", rec.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/api/offers/nope/accept", map[string]any{"driver_id": "d1"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown offer, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health: %d", w.Code)
	}
}