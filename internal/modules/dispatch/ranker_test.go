package dispatch

import (
	"reflect"
	"testing"
	"time"

	"hail/internal/modules/assignment"
	"hail/internal/modules/driver"
	"hail/internal/modules/location"
	"hail/internal/modules/order"
	"hail/internal/types"
)

var rankNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	testCooldown  = 30 * time.Second
	testFreshness = 2 * time.Minute
)

func onlineDriver(id types.ID) *driver.Driver {
	return &driver.Driver{ID: id, Status: driver.StatusActive, OnlineStatus: driver.Online}
}

func freshSample(id types.ID, lat, lng float64) *location.Sample {
	return &location.Sample{
		DriverID:   id,
		Position:   types.Point{Lat: lat, Lng: lng},
		RecordedAt: rankNow.Add(-10 * time.Second),
	}
}

func rankOrder(maxOffers int) *order.Order {
	return &order.Order{
		ID:                  "o1",
		Status:              order.StatusSearching,
		Pickup:              &types.Point{Lat: 25.0330, Lng: 121.5654},
		MaxOffersPerAttempt: maxOffers,
	}
}

func TestRank_DistanceBeatsRotation(t *testing.T) {
	// d1 is closest with a fresh location, d2 has a stale location, d3 has
	// none. d2 was offered more recently than d3, so among the locationless
	// pair d3 rotates to the front.
	pool := []*driver.Driver{onlineDriver("d1"), onlineDriver("d2"), onlineDriver("d3")}
	latest := map[types.ID]*location.Sample{
		"d1": freshSample("d1", 25.0335, 121.5650),
		"d2": {DriverID: "d2", Position: types.Point{Lat: 25.0331, Lng: 121.5655}, RecordedAt: rankNow.Add(-10 * time.Minute)},
	}
	history := []*assignment.Assignment{
		{ID: "a1", OrderID: "o1", DriverID: "d2", Status: assignment.StatusExpired, OfferedAt: rankNow.Add(-time.Minute), ExpiresAt: rankNow.Add(-45 * time.Second)},
		{ID: "a2", OrderID: "o1", DriverID: "d3", Status: assignment.StatusExpired, OfferedAt: rankNow.Add(-time.Hour), ExpiresAt: rankNow.Add(-time.Hour + 15*time.Second)},
	}
	got := Rank(rankOrder(3), pool, history, latest, rankNow, testCooldown, testFreshness)
	want := []types.ID{"d1", "d3", "d2"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Rank() = %v, want %v", got, want)
	}
}

func TestRank_RotationAmongLocationless(t *testing.T) {
	pool := []*driver.Driver{onlineDriver("d1"), onlineDriver("d2"), onlineDriver("d3")}
	history := []*assignment.Assignment{
		{ID: "a1", OrderID: "o1", DriverID: "d1", Status: assignment.StatusExpired, OfferedAt: rankNow.Add(-2 * time.Minute), ExpiresAt: rankNow.Add(-105 * time.Second)},
		{ID: "a2", OrderID: "o1", DriverID: "d2", Status: assignment.StatusExpired, OfferedAt: rankNow.Add(-10 * time.Minute), ExpiresAt: rankNow.Add(-585 * time.Second)},
	}
	got := Rank(rankOrder(3), pool, history, nil, rankNow, testCooldown, testFreshness)
	// d3 never offered, then d2 (oldest offer), then d1.
	want := []types.ID{"d3", "d2", "d1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Rank() = %v, want %v", got, want)
	}
}

func TestRank_RejectionCooldown(t *testing.T) {
	pool := []*driver.Driver{onlineDriver("d1")}
	rejectedAt := rankNow.Add(-10 * time.Second)
	history := []*assignment.Assignment{
		{ID: "a1", OrderID: "o1", DriverID: "d1", Status: assignment.StatusRejected,
			OfferedAt: rankNow.Add(-20 * time.Second), ExpiresAt: rankNow.Add(-5 * time.Second), RejectedAt: &rejectedAt},
	}

	if got := Rank(rankOrder(3), pool, history, nil, rankNow, testCooldown, testFreshness); len(got) != 0 {
		t.Fatalf("driver inside cooldown should be excluded, got %v", got)
	}
	later := rankNow.Add(31 * time.Second)
	if got := Rank(rankOrder(3), pool, history, nil, later, testCooldown, testFreshness); len(got) != 1 || got[0] != "d1" {
		t.Fatalf("driver past cooldown should be eligible again, got %v", got)
	}
}

func TestRank_Exclusions(t *testing.T) {
	offline := onlineDriver("off")
	offline.OnlineStatus = driver.Offline
	onTrip := onlineDriver("trip")
	onTrip.OnlineStatus = driver.OnTrip
	suspended := onlineDriver("susp")
	suspended.Status = driver.StatusSuspended

	pool := []*driver.Driver{offline, onTrip, suspended, onlineDriver("open"), onlineDriver("acc"), onlineDriver("ok")}
	history := []*assignment.Assignment{
		{ID: "a1", OrderID: "o1", DriverID: "open", Status: assignment.StatusOffered, OfferedAt: rankNow.Add(-5 * time.Second), ExpiresAt: rankNow.Add(10 * time.Second)},
		{ID: "a2", OrderID: "o1", DriverID: "acc", Status: assignment.StatusAccepted, OfferedAt: rankNow.Add(-time.Minute), ExpiresAt: rankNow.Add(-45 * time.Second)},
	}
	got := Rank(rankOrder(5), pool, history, nil, rankNow, testCooldown, testFreshness)
	want := []types.ID{"ok"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Rank() = %v, want %v", got, want)
	}
}

func TestRank_TruncatesToBatchSize(t *testing.T) {
	pool := []*driver.Driver{onlineDriver("d1"), onlineDriver("d2"), onlineDriver("d3"), onlineDriver("d4")}
	got := Rank(rankOrder(2), pool, nil, nil, rankNow, testCooldown, testFreshness)
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %v", got)
	}
}

func TestRank_Deterministic(t *testing.T) {
	pool := []*driver.Driver{onlineDriver("b"), onlineDriver("a"), onlineDriver("c")}
	first := Rank(rankOrder(3), pool, nil, nil, rankNow, testCooldown, testFreshness)
	for i := 0; i < 20; i++ {
		if got := Rank(rankOrder(3), pool, nil, nil, rankNow, testCooldown, testFreshness); !reflect.DeepEqual(got, first) {
			t.Fatalf("ranking not deterministic: %v vs %v", got, first)
		}
	}
	// Ties on distance and rotation fall back to id order.
	want := []types.ID{"a", "b", "c"}
	if !reflect.DeepEqual(first, want) {
		t.Fatalf("Rank() = %v, want %v", first, want)
	}
}
