package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sakif/promptr-access/internal/apperror"
	"github.com/sakif/promptr-access/internal/billing"
	"github.com/sakif/promptr-access/internal/identity"
	"github.com/sakif/promptr-access/internal/model"
	"github.com/sakif/promptr-access/internal/repository"
)

// =========================================================================
// FAKE REPOSITORY
// =========================================================================

// fakeRepo keeps rows in memory keyed by email. Setting err makes every
// call fail, which is how storage outages are simulated.
type fakeRepo struct {
	mu     sync.Mutex
	rows   map[string]*model.UserAccess
	nextID int
	err    error
}

var _ repository.UserAccessRepository = (*fakeRepo)(nil)

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: make(map[string]*model.UserAccess)}
}

// seed inserts a row directly.
func (f *fakeRepo) seed(email, token, customerID string, status model.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	ua := &model.UserAccess{
		ID:          fmt.Sprintf("row-%d", f.nextID),
		Email:       email,
		AccessToken: token,
		Status:      status,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if customerID != "" {
		c := customerID
		ua.StripeCustomerID = &c
	}
	f.rows[email] = ua
}

// get returns a copy of the row, or nil.
func (f *fakeRepo) get(email string) *model.UserAccess {
	f.mu.Lock()
	defer f.mu.Unlock()
	ua, ok := f.rows[email]
	if !ok {
		return nil
	}
	cp := *ua
	return &cp
}

func (f *fakeRepo) UpsertFromCheckout(_ context.Context, email, customerID, newToken string) (*model.UserAccess, error) {
	if f.err != nil {
		return nil, f.err
	}
	if existing := f.get(email); existing != nil {
		f.mu.Lock()
		c := customerID
		f.rows[email].StripeCustomerID = &c
		f.rows[email].Status = model.StatusTrialing
		f.mu.Unlock()
		return f.get(email), nil
	}
	f.seed(email, newToken, customerID, model.StatusTrialing)
	return f.get(email), nil
}

func (f *fakeRepo) EnsureExists(_ context.Context, email, newToken string) (*model.UserAccess, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	if existing := f.get(email); existing != nil {
		return existing, false, nil
	}
	f.seed(email, newToken, "", model.StatusTrialing)
	return f.get(email), true, nil
}

func (f *fakeRepo) GetByEmail(_ context.Context, email string) (*model.UserAccess, error) {
	if f.err != nil {
		return nil, f.err
	}
	if ua := f.get(email); ua != nil {
		return ua, nil
	}
	return nil, apperror.NotFound("user_access", email)
}

func (f *fakeRepo) find(match func(*model.UserAccess) bool) *model.UserAccess {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ua := range f.rows {
		if match(ua) {
			cp := *ua
			return &cp
		}
	}
	return nil
}

func (f *fakeRepo) GetByAccessToken(_ context.Context, token string) (*model.UserAccess, error) {
	if f.err != nil {
		return nil, f.err
	}
	if ua := f.find(func(u *model.UserAccess) bool { return u.AccessToken == token }); ua != nil {
		return ua, nil
	}
	return nil, apperror.NotFound("user_access", token)
}

func (f *fakeRepo) GetByCustomerID(_ context.Context, customerID string) (*model.UserAccess, error) {
	if f.err != nil {
		return nil, f.err
	}
	if ua := f.find(func(u *model.UserAccess) bool { return u.CustomerID() == customerID }); ua != nil {
		return ua, nil
	}
	return nil, apperror.NotFound("user_access", customerID)
}

func (f *fakeRepo) SetStatusByEmail(_ context.Context, email string, status model.Status) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ua, ok := f.rows[email]
	if !ok {
		return apperror.NotFound("user_access", email)
	}
	ua.Status = status
	return nil
}

func (f *fakeRepo) SetStatusByCustomerID(_ context.Context, customerID string, status model.Status) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, ua := range f.rows {
		if ua.CustomerID() == customerID {
			ua.Status = status
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) ClearCustomerID(_ context.Context, email string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ua, ok := f.rows[email]
	if !ok {
		return apperror.NotFound("user_access", email)
	}
	ua.StripeCustomerID = nil
	return nil
}

func (f *fakeRepo) DeleteByEmail(_ context.Context, email string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.rows[email]
	delete(f.rows, email)
	return ok, nil
}

func (f *fakeRepo) List(_ context.Context, _ repository.ListOptions) ([]model.UserAccess, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.UserAccess, 0, len(f.rows))
	for _, ua := range f.rows {
		out = append(out, *ua)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (f *fakeRepo) Ping(context.Context) error { return f.err }
func (f *fakeRepo) Close() error               { return nil }

// =========================================================================
// FAKE PAYMENT PROVIDER
// =========================================================================

// fakeBilling records calls. Per-method errors simulate provider failures.
type fakeBilling struct {
	subs    map[string][]billing.Subscription // by customer
	methods map[string][]string               // by customer

	listErr, cancelErr, periodEndErr, portalErr, checkoutErr, deleteErr error

	checkouts   []billing.CheckoutRequest
	portalCalls []string // return URLs
	cancelled   []string
	periodEnd   []string
	detached    []string
	deleted     []string
}

var _ billing.Provider = (*fakeBilling)(nil)

func newFakeBilling() *fakeBilling {
	return &fakeBilling{
		subs:    make(map[string][]billing.Subscription),
		methods: make(map[string][]string),
	}
}

func (f *fakeBilling) CreateCheckoutSession(_ context.Context, req billing.CheckoutRequest) (string, error) {
	if f.checkoutErr != nil {
		return "", f.checkoutErr
	}
	f.checkouts = append(f.checkouts, req)
	return "https://checkout.stripe.test/c/" + req.Email, nil
}

func (f *fakeBilling) CreatePortalSession(_ context.Context, customerID, returnURL string) (string, error) {
	if f.portalErr != nil {
		return "", f.portalErr
	}
	f.portalCalls = append(f.portalCalls, returnURL)
	return "https://billing.stripe.test/p/" + customerID, nil
}

func (f *fakeBilling) ListSubscriptions(_ context.Context, customerID string) ([]billing.Subscription, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.subs[customerID], nil
}

func (f *fakeBilling) CancelSubscription(_ context.Context, id string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeBilling) CancelAtPeriodEnd(_ context.Context, id string) error {
	if f.periodEndErr != nil {
		return f.periodEndErr
	}
	f.periodEnd = append(f.periodEnd, id)
	return nil
}

func (f *fakeBilling) ListPaymentMethods(_ context.Context, customerID string) ([]string, error) {
	return f.methods[customerID], nil
}

func (f *fakeBilling) DetachPaymentMethod(_ context.Context, id string) error {
	f.detached = append(f.detached, id)
	return nil
}

func (f *fakeBilling) DeleteCustomer(_ context.Context, customerID string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, customerID)
	return nil
}

// =========================================================================
// FAKE DIRECTORY
// =========================================================================

type fakeDirectory struct {
	users     map[string]string // id -> email
	err       error
	deleteErr error
	deleted   []string
}

var _ identity.Directory = (*fakeDirectory)(nil)

func (f *fakeDirectory) LookupEmail(_ context.Context, userID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	email, ok := f.users[userID]
	if !ok {
		return "", identity.ErrUserNotFound
	}
	return email, nil
}

func (f *fakeDirectory) FindUserIDsByEmail(_ context.Context, email string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	var ids []string
	for id, e := range f.users {
		if e == email {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeDirectory) DeleteUser(_ context.Context, userID string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.users, userID)
	f.deleted = append(f.deleted, userID)
	return nil
}

// =========================================================================
// HELPERS
// =========================================================================

const (
	tokenA = "3f2b8c1e-9a4d-4c7e-8b1f-2d3e4f5a6b7c"
	tokenB = "7c6b5a4f-3e2d-4f1b-9e7c-4d9a1e8c2b3f"
)

// fixedTokens hands out the given tokens in order, then repeats the last.
func fixedTokens(tokens ...string) TokenGenerator {
	var mu sync.Mutex
	i := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		t := tokens[min(i, len(tokens)-1)]
		i++
		return t
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var errStorage = fmt.Errorf("database is locked")
