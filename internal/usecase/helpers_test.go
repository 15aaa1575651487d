package usecase_test

import (
	// Go Internal Packages
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	// Local Packages
	"github.com/scottmaphuma022-wq/nova-lifeguard-portal/internal/domain"
	"github.com/scottmaphuma022-wq/nova-lifeguard-portal/internal/mpesa"
	"github.com/scottmaphuma022-wq/nova-lifeguard-portal/internal/repository"

	// External Packages
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) *repository.SQLiteRepo {
	t.Helper()
	repo, err := repository.NewSQLiteRepo(filepath.Join(t.TempDir(), "usecase.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

type fakeGateway struct {
	mu        sync.Mutex
	authErr   error
	pushErr   error
	authCalls int
	pushes    []mpesa.PushRequest
	next      int
}

func (g *fakeGateway) Authenticate(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.authCalls++
	if g.authErr != nil {
		return "", g.authErr
	}
	return "token", nil
}

func (g *fakeGateway) Push(ctx context.Context, token string, req mpesa.PushRequest) (*mpesa.PushResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pushes = append(g.pushes, req)
	if g.pushErr != nil {
		return nil, g.pushErr
	}
	g.next++
	return &mpesa.PushResponse{
		MerchantRequestID: "merchant-" + string(rune('0'+g.next)),
		CheckoutRequestID: "ws_CO_" + string(rune('0'+g.next)),
		ResponseCode:      "0",
	}, nil
}

type fakeDeadLetter struct {
	mu      sync.Mutex
	items   []domain.PaymentUpdate
	pushErr error
}

func (d *fakeDeadLetter) Push(ctx context.Context, u domain.PaymentUpdate) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pushErr != nil {
		return d.pushErr
	}
	d.items = append(d.items, u)
	return nil
}

func (d *fakeDeadLetter) Pop(ctx context.Context) (domain.PaymentUpdate, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.items) == 0 {
		return domain.PaymentUpdate{}, false, nil
	}
	u := d.items[0]
	d.items = d.items[1:]
	return u, true, nil
}

func (d *fakeDeadLetter) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

// flakyStore fails payment writes while broken is set.
type flakyStore struct {
	*repository.SQLiteRepo
	mu     sync.Mutex
	broken bool
}

var errDiskFull = errors.New("disk full")

func (s *flakyStore) setBroken(b bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broken = b
}

func (s *flakyStore) isBroken() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.broken
}

func (s *flakyStore) ApplyPaymentUpdate(ctx context.Context, u domain.PaymentUpdate) (bool, error) {
	if s.isBroken() {
		return false, errDiskFull
	}
	return s.SQLiteRepo.ApplyPaymentUpdate(ctx, u)
}

func (s *flakyStore) CreatePayment(ctx context.Context, p *domain.Payment) error {
	if s.isBroken() {
		return errDiskFull
	}
	return s.SQLiteRepo.CreatePayment(ctx, p)
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	obtained []string
}

func (l *fakeLocker) Obtain(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[key] {
		return nil, errLockHeld
	}
	l.held[key] = true
	l.obtained = append(l.obtained, key)
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

var errLockHeld = errors.New("lock held")
