//go:build integration

package integration

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"testing"
)

func robokassaSignature(outSum, invID, password string) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%s:%s", outSum, invID, password)))
	return hex.EncodeToString(sum[:])
}

func robokassaForm(outSum, invID, password string) url.Values {
	return url.Values{
		"OutSum":         {outSum},
		"InvId":          {invID},
		"SignatureValue": {robokassaSignature(outSum, invID, password)},
	}
}

func tinkoffToken(fields map[string]string, secret string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(fields[k])
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(b.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestRobokassaWebhook_ConfirmsOrder(t *testing.T) {
	o := placeOrder(t, demoPhotos(1), "robokassa")

	form := robokassaForm(o.FinalAmount, o.ID, robokassaPassword2)
	resp := doForm(t, "/api/payments/robokassa/result", form)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if want := "OK" + o.ID; string(body) != want {
		t.Errorf("ack body: got %q, want %q", body, want)
	}

	full := getOrder(t, o.ID)
	if full.PaymentStatus != "paid" {
		t.Errorf("payment status: got %s, want paid", full.PaymentStatus)
	}
	if full.Status != "processing" {
		t.Errorf("status: got %s, want processing", full.Status)
	}
}

func TestRobokassaWebhook_RedeliveryIsIdempotent(t *testing.T) {
	o := placeOrder(t, demoPhotos(2), "robokassa")
	form := robokassaForm(o.FinalAmount, o.ID, robokassaPassword2)

	for i := range 3 {
		resp := doForm(t, "/api/payments/robokassa/result", form)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d", i+1, resp.StatusCode)
		}
		resp.Body.Close()
	}

	full := getOrder(t, o.ID)
	if full.PaymentStatus != "paid" {
		t.Errorf("payment status after redelivery: got %s, want paid", full.PaymentStatus)
	}
}

func TestRobokassaWebhook_BadSignature(t *testing.T) {
	o := placeOrder(t, demoPhotos(1), "robokassa")

	form := robokassaForm(o.FinalAmount, o.ID, "wrong-password")
	resp := doForm(t, "/api/payments/robokassa/result", form)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	full := getOrder(t, o.ID)
	if full.PaymentStatus != "pending" {
		t.Errorf("payment status: got %s, want pending", full.PaymentStatus)
	}
}

func TestRobokassaWebhook_TamperedAmount(t *testing.T) {
	o := placeOrder(t, demoPhotos(1), "robokassa")

	form := robokassaForm(o.FinalAmount, o.ID, robokassaPassword2)
	form.Set("OutSum", "0.01")
	resp := doForm(t, "/api/payments/robokassa/result", form)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func tinkoffNotify(t *testing.T, orderID, paymentID, status string, success bool) *http.Response {
	t.Helper()

	fields := map[string]string{
		"TerminalKey": tinkoffTerminalKey,
		"OrderId":     orderID,
		"PaymentId":   paymentID,
		"Status":      status,
		"Success":     fmt.Sprintf("%t", success),
		"Amount":      "500",
	}
	body := map[string]any{
		"TerminalKey": fields["TerminalKey"],
		"OrderId":     fields["OrderId"],
		"PaymentId":   fields["PaymentId"],
		"Status":      fields["Status"],
		"Success":     success,
		"Amount":      fields["Amount"],
		"Token":       tinkoffToken(fields, tinkoffSecret),
	}
	return doJSON(t, http.MethodPost, "/api/payments/tinkoff/notify", body, "")
}

func TestTinkoffWebhook_ConfirmsOrder(t *testing.T) {
	o := placeOrder(t, demoPhotos(1), "tinkoff")

	resp := tinkoffNotify(t, o.ID, o.ID+"-txn", "CONFIRMED", true)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	ack := decodeJSON[map[string]bool](t, resp)
	if !ack["success"] {
		t.Error("expected success ack")
	}

	full := getOrder(t, o.ID)
	if full.PaymentStatus != "paid" {
		t.Errorf("payment status: got %s, want paid", full.PaymentStatus)
	}
}

func TestTinkoffWebhook_RejectedMarksFailed(t *testing.T) {
	o := placeOrder(t, demoPhotos(1), "tinkoff")

	resp := tinkoffNotify(t, o.ID, o.ID+"-txn", "REJECTED", false)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	full := getOrder(t, o.ID)
	if full.PaymentStatus != "failed" {
		t.Errorf("payment status: got %s, want failed", full.PaymentStatus)
	}
	if full.Status != "pending" {
		t.Errorf("status: got %s, want pending", full.Status)
	}
}

func TestTinkoffWebhook_FailedThenConfirmed(t *testing.T) {
	// A failed attempt followed by a successful re-attempt with a new
	// transaction id ends paid.
	o := placeOrder(t, demoPhotos(1), "tinkoff")

	resp := tinkoffNotify(t, o.ID, o.ID+"-txn-1", "REJECTED", false)
	resp.Body.Close()
	resp = tinkoffNotify(t, o.ID, o.ID+"-txn-2", "CONFIRMED", true)
	resp.Body.Close()

	full := getOrder(t, o.ID)
	if full.PaymentStatus != "paid" {
		t.Errorf("payment status: got %s, want paid", full.PaymentStatus)
	}
}

func TestTinkoffWebhook_BadToken(t *testing.T) {
	o := placeOrder(t, demoPhotos(1), "tinkoff")

	body := map[string]any{
		"TerminalKey": tinkoffTerminalKey,
		"OrderId":     o.ID,
		"PaymentId":   o.ID + "-txn",
		"Status":      "CONFIRMED",
		"Success":     true,
		"Amount":      "500",
		"Token":       "deadbeef",
	}
	resp := doJSON(t, http.MethodPost, "/api/payments/tinkoff/notify", body, "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	full := getOrder(t, o.ID)
	if full.PaymentStatus != "pending" {
		t.Errorf("payment status: got %s, want pending", full.PaymentStatus)
	}
}
