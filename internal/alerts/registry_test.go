package alerts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"wenmoon/internal/models"
)

func TestClientSetAlert(t *testing.T) {
	var got setAlertRequest
	var gotToken string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/alerts" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotToken = r.Header.Get("X-Device-Token")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(models.PriceAlert{ID: "bitcoin-target", TargetPrice: got.TargetPrice})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	coin := models.Coin{ID: "bitcoin", Symbol: "btc", CurrentPrice: floatPtr(60000)}

	t.Run("target above current price goes up", func(t *testing.T) {
		alert, err := client.SetAlert(context.Background(), 70000, coin, "device-token")
		if err != nil {
			t.Fatalf("SetAlert: %v", err)
		}
		if got.TargetDirection != models.DirectionAbove {
			t.Errorf("direction = %q, want %q", got.TargetDirection, models.DirectionAbove)
		}
		if gotToken != "device-token" {
			t.Errorf("device token header = %q", gotToken)
		}
		if alert.ID != "bitcoin-target" {
			t.Errorf("alert id = %q", alert.ID)
		}
	})

	t.Run("target below current price goes down", func(t *testing.T) {
		if _, err := client.SetAlert(context.Background(), 50000, coin, "device-token"); err != nil {
			t.Fatalf("SetAlert: %v", err)
		}
		if got.TargetDirection != models.DirectionBelow {
			t.Errorf("direction = %q, want %q", got.TargetDirection, models.DirectionBelow)
		}
	})
}

func TestClientGetAlerts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/user-1/alerts" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]models.PriceAlert{
			{ID: "bitcoin-target", TargetPrice: 70000, IsActive: true},
		})
	}))
	defer server.Close()

	alerts, err := NewClient(server.URL).GetAlerts(context.Background(), "user-1", "device-token")
	if err != nil {
		t.Fatalf("GetAlerts: %v", err)
	}
	if len(alerts) != 1 || alerts[0].ID != "bitcoin-target" {
		t.Errorf("alerts = %+v", alerts)
	}
}

func TestClientServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(serverError{Description: "alert already exists"})
	}))
	defer server.Close()

	_, err := NewClient(server.URL).SetAlert(context.Background(), 1, models.Coin{ID: "bitcoin"}, "device-token")
	if err == nil {
		t.Fatal("expected an error")
	}
	if want := "alert already exists"; err.Error() != "alert backend error: "+want {
		t.Errorf("err = %q", err)
	}
}

func TestClientMatches(t *testing.T) {
	client := NewClient("http://localhost")

	if !client.Matches(models.PriceAlert{ID: "bitcoin-target-1"}, "bitcoin") {
		t.Error("alert id containing the coin id should match")
	}
	if client.Matches(models.PriceAlert{ID: "ethereum-target-1"}, "bitcoin") {
		t.Error("alert id without the coin id should not match")
	}
}
