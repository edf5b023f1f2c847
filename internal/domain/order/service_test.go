package order

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proofroom/proofroom/internal/domain/auth"
	"github.com/proofroom/proofroom/internal/domain/gallery"
	"github.com/proofroom/proofroom/internal/domain/pricing"
)

// --- Mock implementations ---

type mockOrderRepo struct {
	byID      map[string]*Order
	created   *Order
	updated   *Order
	createErr error
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.created = o
	return nil
}

func (m *mockOrderRepo) GetByID(_ context.Context, id string) (*Order, error) {
	o, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrderRepo) ApplyPaymentOutcome(_ context.Context, _ ApplyRequest) (*Applied, error) {
	return nil, errors.New("not used")
}

func (m *mockOrderRepo) UpdateStatus(_ context.Context, o *Order, _ Status, _ PaymentStatus) error {
	m.updated = o
	return nil
}

type mockGallery struct {
	session *gallery.Session
	photos  []gallery.Photo
}

func (m *mockGallery) SessionByID(_ context.Context, id string) (*gallery.Session, error) {
	if m.session == nil || m.session.ID != id {
		return nil, gallery.ErrSessionNotFound
	}
	return m.session, nil
}

func (m *mockGallery) PhotosByIDs(_ context.Context, ids []string) ([]gallery.Photo, error) {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var out []gallery.Photo
	for _, p := range m.photos {
		if _, ok := want[p.ID]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type mockPolicyRepo struct {
	policy *pricing.Policy
}

func (m *mockPolicyRepo) ActiveForStudio(_ context.Context, _ string) (*pricing.Policy, error) {
	if m.policy == nil {
		return nil, pricing.ErrNoActivePolicy
	}
	return m.policy, nil
}

// --- Helpers ---

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func testGallery(sessionID, studioID string, photoIDs ...string) *mockGallery {
	photos := make([]gallery.Photo, len(photoIDs))
	for i, id := range photoIDs {
		photos[i] = gallery.Photo{ID: id, SessionID: sessionID}
	}
	return &mockGallery{
		session: &gallery.Session{ID: sessionID, StudioID: studioID},
		photos:  photos,
	}
}

func validCreateRequest(photoIDs ...string) CreateOrderRequest {
	return CreateOrderRequest{
		SessionID:     "sess-1",
		Guest:         GuestContact{Email: "guest@example.com", Name: "Anna"},
		PhotoIDs:      photoIDs,
		PaymentMethod: "robokassa",
	}
}

// --- Tests ---

func TestCreateOrder_Success(t *testing.T) {
	repo := &mockOrderRepo{}
	ledger := NewLedger(repo,
		testGallery("sess-1", "studio-1", "p1", "p2", "p3"),
		&mockPolicyRepo{policy: &pricing.Policy{
			PricePerUnit:  d("5.00"),
			BulkThreshold: 20,
			BulkPercent:   d("15"),
		}},
	)

	o, err := ledger.CreateOrder(context.Background(), validCreateRequest("p1", "p2", "p3"))
	require.NoError(t, err)

	assert.NotEmpty(t, o.ID)
	assert.Equal(t, "studio-1", o.StudioID)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, PaymentPending, o.PaymentStatus)
	assert.True(t, o.Total.Equal(d("15.00")))
	assert.True(t, o.Discount.IsZero())
	assert.True(t, o.Final.Equal(d("15.00")))
	assert.Len(t, o.Items, 3)
	for _, it := range o.Items {
		assert.True(t, it.UnitPrice.Equal(d("5.00")), "item price snapshot")
	}
	require.NotNil(t, repo.created)
	assert.Equal(t, o.ID, repo.created.ID)
}

func TestCreateOrder_BulkDiscountScenario(t *testing.T) {
	ids := make([]string, 25)
	for i := range ids {
		ids[i] = "p" + string(rune('a'+i/10)) + string(rune('0'+i%10))
	}

	repo := &mockOrderRepo{}
	ledger := NewLedger(repo,
		testGallery("sess-1", "studio-1", ids...),
		&mockPolicyRepo{policy: &pricing.Policy{
			PricePerUnit:  d("5.00"),
			BulkThreshold: 20,
			BulkPercent:   d("15"),
		}},
	)

	o, err := ledger.CreateOrder(context.Background(), validCreateRequest(ids...))
	require.NoError(t, err)

	assert.True(t, o.Total.Equal(d("125.00")), "total %s", o.Total)
	assert.True(t, o.Discount.Equal(d("18.75")), "discount %s", o.Discount)
	assert.True(t, o.Final.Equal(d("106.25")), "final %s", o.Final)
}

func TestCreateOrder_DuplicatePhotoIDsCollapse(t *testing.T) {
	repo := &mockOrderRepo{}
	ledger := NewLedger(repo,
		testGallery("sess-1", "studio-1", "p1", "p2"),
		&mockPolicyRepo{},
	)

	o, err := ledger.CreateOrder(context.Background(), validCreateRequest("p1", "p2", "p1", "p1"))
	require.NoError(t, err)
	assert.Len(t, o.Items, 2)
}

func TestCreateOrder_MissingPolicyFallsBackToDefault(t *testing.T) {
	repo := &mockOrderRepo{}
	ledger := NewLedger(repo,
		testGallery("sess-1", "studio-1", "p1", "p2"),
		&mockPolicyRepo{}, // no active policy
	)

	o, err := ledger.CreateOrder(context.Background(), validCreateRequest("p1", "p2"))
	require.NoError(t, err)
	assert.True(t, o.Final.Equal(d("20.00")), "default price per unit applies")
}

func TestCreateOrder_Errors(t *testing.T) {
	g := testGallery("sess-1", "studio-1", "p1")
	g.photos = append(g.photos, gallery.Photo{ID: "foreign", SessionID: "sess-2"})

	tests := []struct {
		name    string
		req     CreateOrderRequest
		wantErr error
		wantSel bool
	}{
		{
			name: "unsupported payment method",
			req: CreateOrderRequest{
				SessionID:     "sess-1",
				Guest:         GuestContact{Email: "g@example.com"},
				PhotoIDs:      []string{"p1"},
				PaymentMethod: "paypal",
			},
			wantErr: ErrUnsupportedPaymentMethod,
		},
		{
			name: "invalid guest email",
			req: CreateOrderRequest{
				SessionID:     "sess-1",
				Guest:         GuestContact{Email: "not-an-email"},
				PhotoIDs:      []string{"p1"},
				PaymentMethod: "cash",
			},
			wantErr: ErrInvalidGuestEmail,
		},
		{
			name: "empty selection",
			req: CreateOrderRequest{
				SessionID:     "sess-1",
				Guest:         GuestContact{Email: "g@example.com"},
				PaymentMethod: "cash",
			},
			wantErr: ErrEmptySelection,
		},
		{
			name:    "unknown session",
			req:     CreateOrderRequest{SessionID: "nope", Guest: GuestContact{Email: "g@example.com"}, PhotoIDs: []string{"p1"}, PaymentMethod: "cash"},
			wantSel: true,
		},
		{
			name:    "missing photo",
			req:     CreateOrderRequest{SessionID: "sess-1", Guest: GuestContact{Email: "g@example.com"}, PhotoIDs: []string{"p1", "ghost"}, PaymentMethod: "cash"},
			wantSel: true,
		},
		{
			name:    "photo from another session",
			req:     CreateOrderRequest{SessionID: "sess-1", Guest: GuestContact{Email: "g@example.com"}, PhotoIDs: []string{"p1", "foreign"}, PaymentMethod: "cash"},
			wantSel: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := NewLedger(&mockOrderRepo{}, g, &mockPolicyRepo{})
			_, err := ledger.CreateOrder(context.Background(), tt.req)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantSel {
				var selErr *InvalidSelectionError
				assert.ErrorAs(t, err, &selErr)
			}
		})
	}
}

func TestSetManualStatus_FulfillmentFlow(t *testing.T) {
	repo := &mockOrderRepo{byID: map[string]*Order{
		"o1": {
			ID:            "o1",
			StudioID:      "studio-1",
			PaymentMethod: MethodCash,
			Status:        StatusProcessing,
			PaymentStatus: PaymentPaid,
		},
	}}
	ledger := NewLedger(repo, &mockGallery{}, &mockPolicyRepo{})
	actor := auth.Actor{StudioID: "studio-1", Scopes: []string{auth.ScopeOrdersWrite}}

	completed := StatusCompleted
	o, err := ledger.SetManualStatus(context.Background(), "o1", actor, StatusUpdate{Status: &completed})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, o.Status)
	assert.NotNil(t, o.CompletedAt)
	require.NotNil(t, repo.updated)
}

func TestSetManualStatus_CashPaymentEdit(t *testing.T) {
	repo := &mockOrderRepo{byID: map[string]*Order{
		"o1": {ID: "o1", StudioID: "studio-1", PaymentMethod: MethodCash, Status: StatusPending, PaymentStatus: PaymentPending},
	}}
	ledger := NewLedger(repo, &mockGallery{}, &mockPolicyRepo{})
	actor := auth.Actor{StudioID: "studio-1"}

	paid := PaymentPaid
	o, err := ledger.SetManualStatus(context.Background(), "o1", actor, StatusUpdate{PaymentStatus: &paid})
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, o.PaymentStatus)
}

func TestSetManualStatus_Rejections(t *testing.T) {
	mkRepo := func(o Order) *mockOrderRepo {
		return &mockOrderRepo{byID: map[string]*Order{o.ID: &o}}
	}
	paid := PaymentPaid
	processing := StatusProcessing

	t.Run("payment edit on provider order", func(t *testing.T) {
		repo := mkRepo(Order{ID: "o1", StudioID: "s1", PaymentMethod: MethodTinkoff, Status: StatusPending, PaymentStatus: PaymentPending})
		ledger := NewLedger(repo, &mockGallery{}, &mockPolicyRepo{})
		_, err := ledger.SetManualStatus(context.Background(), "o1", auth.Actor{StudioID: "s1"}, StatusUpdate{PaymentStatus: &paid})
		assert.ErrorIs(t, err, ErrManualPaymentEdit)
		assert.Nil(t, repo.updated)
	})

	t.Run("transition out of terminal status", func(t *testing.T) {
		repo := mkRepo(Order{ID: "o1", StudioID: "s1", PaymentMethod: MethodCash, Status: StatusCompleted, PaymentStatus: PaymentPaid})
		ledger := NewLedger(repo, &mockGallery{}, &mockPolicyRepo{})
		_, err := ledger.SetManualStatus(context.Background(), "o1", auth.Actor{StudioID: "s1"}, StatusUpdate{Status: &processing})
		var trErr *InvalidTransitionError
		require.ErrorAs(t, err, &trErr)
		assert.Equal(t, "status", trErr.Field)
		assert.Nil(t, repo.updated)
	})

	t.Run("foreign studio actor", func(t *testing.T) {
		repo := mkRepo(Order{ID: "o1", StudioID: "s1", PaymentMethod: MethodCash, Status: StatusPending, PaymentStatus: PaymentPending})
		ledger := NewLedger(repo, &mockGallery{}, &mockPolicyRepo{})
		_, err := ledger.SetManualStatus(context.Background(), "o1", auth.Actor{StudioID: "s2"}, StatusUpdate{Status: &processing})
		assert.ErrorIs(t, err, ErrTenantMismatch)
	})

	t.Run("admin actor crosses tenants", func(t *testing.T) {
		repo := mkRepo(Order{ID: "o1", StudioID: "s1", PaymentMethod: MethodCash, Status: StatusPending, PaymentStatus: PaymentPending})
		ledger := NewLedger(repo, &mockGallery{}, &mockPolicyRepo{})
		_, err := ledger.SetManualStatus(context.Background(), "o1", auth.Actor{Scopes: []string{auth.ScopeAdmin}}, StatusUpdate{Status: &processing})
		assert.NoError(t, err)
	})

	t.Run("unknown order", func(t *testing.T) {
		ledger := NewLedger(&mockOrderRepo{}, &mockGallery{}, &mockPolicyRepo{})
		_, err := ledger.SetManualStatus(context.Background(), "nope", auth.Actor{}, StatusUpdate{Status: &processing})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCreateOrder_TimestampsAreUTC(t *testing.T) {
	repo := &mockOrderRepo{}
	ledger := NewLedger(repo, testGallery("sess-1", "studio-1", "p1"), &mockPolicyRepo{})
	ledger.now = func() time.Time {
		return time.Date(2025, 3, 1, 10, 30, 0, 0, time.FixedZone("MSK", 3*3600))
	}

	o, err := ledger.CreateOrder(context.Background(), validCreateRequest("p1"))
	require.NoError(t, err)
	assert.Equal(t, time.UTC, o.CreatedAt.Location())
}
