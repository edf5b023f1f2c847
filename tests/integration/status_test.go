//go:build integration

package integration

import (
	"net/http"
	"testing"
)

func patchStatus(t *testing.T, orderID, body, apiKey string) *http.Response {
	t.Helper()
	return doJSON(t, http.MethodPatch, "/api/orders/"+orderID+"/status", rawJSON(body), apiKey)
}

// rawJSON lets a test send an exact JSON body through doJSON.
type rawJSON string

func (r rawJSON) MarshalJSON() ([]byte, error) { return []byte(r), nil }

func TestStaffRoutes_RequireAuth(t *testing.T) {
	o := placeOrder(t, demoPhotos(1), "cash")

	resp := doGet(t, "/api/orders/"+o.ID, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("GET without key: expected 401, got %d", resp.StatusCode)
	}

	resp = doGet(t, "/api/orders/"+o.ID, "wrong-key")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("GET with bad key: expected 401, got %d", resp.StatusCode)
	}
}

func TestManualStatus_FulfillmentLifecycle(t *testing.T) {
	o := placeOrder(t, demoPhotos(1), "cash")

	resp := patchStatus(t, o.ID, `{"status":"processing"}`, testAPIKey)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("to processing: expected 200, got %d", resp.StatusCode)
	}

	resp = patchStatus(t, o.ID, `{"status":"completed"}`, testAPIKey)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("to completed: expected 200, got %d", resp.StatusCode)
	}

	full := getOrder(t, o.ID)
	if full.Status != "completed" {
		t.Errorf("status: got %s, want completed", full.Status)
	}
}

func TestManualStatus_IllegalTransition(t *testing.T) {
	o := placeOrder(t, demoPhotos(1), "cash")

	// pending -> completed skips processing.
	resp := patchStatus(t, o.ID, `{"status":"completed"}`, testAPIKey)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestManualStatus_CashPaymentEdit(t *testing.T) {
	o := placeOrder(t, demoPhotos(1), "cash")

	resp := patchStatus(t, o.ID, `{"paymentStatus":"paid"}`, testAPIKey)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	full := getOrder(t, o.ID)
	if full.PaymentStatus != "paid" {
		t.Errorf("payment status: got %s, want paid", full.PaymentStatus)
	}
}

func TestManualStatus_ProviderPaymentEditForbidden(t *testing.T) {
	o := placeOrder(t, demoPhotos(1), "robokassa")

	resp := patchStatus(t, o.ID, `{"paymentStatus":"paid"}`, testAPIKey)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestManualStatus_UnknownValue(t *testing.T) {
	o := placeOrder(t, demoPhotos(1), "cash")

	resp := patchStatus(t, o.ID, `{"status":"shipped"}`, testAPIKey)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
