package robokassa

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proofroom/proofroom/internal/domain/order"
	"github.com/proofroom/proofroom/internal/domain/payment"
)

const testPassword = "secret-password-2"

type stubFinder struct {
	orders map[string]*order.Order
}

func (s *stubFinder) GetByID(_ context.Context, id string) (*order.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o, nil
}

func signedPayload(outSum, invID, password string) []byte {
	vals := url.Values{}
	vals.Set("OutSum", outSum)
	vals.Set("InvId", invID)
	vals.Set("SignatureValue", Signature(outSum, invID, password))
	return []byte(vals.Encode())
}

func newVerifier(orderIDs ...string) *Verifier {
	finder := &stubFinder{orders: make(map[string]*order.Order)}
	for _, id := range orderIDs {
		finder.orders[id] = &order.Order{ID: id}
	}
	return New(testPassword, finder)
}

func TestVerify_Valid(t *testing.T) {
	v := newVerifier("order-77")

	ev, err := v.Verify(context.Background(), signedPayload("106.25", "order-77", testPassword))
	require.NoError(t, err)

	assert.Equal(t, "order-77", ev.OrderID)
	assert.Equal(t, ProviderName, ev.Provider)
	assert.Equal(t, "order-77", ev.TransactionID)
	assert.Equal(t, payment.OutcomeConfirmed, ev.Outcome)
	assert.True(t, ev.SignatureValid)
	assert.Equal(t, "106.25", ev.Amount.StringFixed(2))
}

func TestVerify_UppercaseSignatureAccepted(t *testing.T) {
	v := newVerifier("order-77")

	vals := url.Values{}
	vals.Set("OutSum", "50.00")
	vals.Set("InvId", "order-77")
	vals.Set("SignatureValue", strings.ToUpper(Signature("50.00", "order-77", testPassword)))

	_, err := v.Verify(context.Background(), []byte(vals.Encode()))
	assert.NoError(t, err, "hex comparison is case-insensitive")
}

func TestVerify_WrongSecret(t *testing.T) {
	v := newVerifier("order-77")

	_, err := v.Verify(context.Background(), signedPayload("106.25", "order-77", "attacker-guess"))

	var verr *payment.VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, payment.ReasonBadSignature, verr.Reason)
}

func TestVerify_TamperedAmount(t *testing.T) {
	v := newVerifier("order-77")

	// Sign for one amount, deliver another.
	vals := url.Values{}
	vals.Set("OutSum", "1.00")
	vals.Set("InvId", "order-77")
	vals.Set("SignatureValue", Signature("106.25", "order-77", testPassword))

	_, err := v.Verify(context.Background(), []byte(vals.Encode()))

	var verr *payment.VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, payment.ReasonBadSignature, verr.Reason)
}

func TestVerify_UnknownOrder(t *testing.T) {
	v := newVerifier() // empty ledger

	_, err := v.Verify(context.Background(), signedPayload("10.00", "ghost-order", testPassword))

	var verr *payment.VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, payment.ReasonUnknownOrder, verr.Reason)
}

func TestVerify_MissingFields(t *testing.T) {
	v := newVerifier("order-77")

	tests := []string{
		"",
		"OutSum=10.00&InvId=order-77",         // no signature
		"InvId=order-77&SignatureValue=abc",   // no amount
		"OutSum=10.00&SignatureValue=abc",     // no invoice
		"%zz",                                 // not parseable
	}

	for _, raw := range tests {
		_, err := v.Verify(context.Background(), []byte(raw))
		var verr *payment.VerificationError
		require.ErrorAs(t, err, &verr, "payload %q", raw)
		assert.Equal(t, payment.ReasonMalformed, verr.Reason, "payload %q", raw)
	}
}

func TestAck(t *testing.T) {
	assert.Equal(t, "OKorder-77", Ack("order-77"))
}
