package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/iamhuraira/pharmaKhata-sub000/internal/domain"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/money"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/store"
)

var _ store.Repository = (*Store)(nil)

// Store keeps everything in maps guarded by one RWMutex. WithTx holds the
// write lock for the whole unit of work, which makes ledger appends and
// balance mutations single-writer.
type Store struct {
	mu           sync.RWMutex
	customers    map[string]domain.Customer
	products     map[string]domain.Product
	orders       map[string]domain.Order
	ordersByIdem map[string]string
	ledger       []domain.LedgerEntry
	ledgerIDs    map[string]int
	ledgerByIdem map[string]int
	head         int
	seq          int64
	auditLogs    []domain.AuditLog
	users        map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		customers:    make(map[string]domain.Customer),
		products:     make(map[string]domain.Product),
		orders:       make(map[string]domain.Order),
		ordersByIdem: make(map[string]string),
		ledgerIDs:    make(map[string]int),
		ledgerByIdem: make(map[string]int),
		head:         -1,
		users:        make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store with demo staff accounts, customers and a small
// pharmacy catalogue. Customers start at a zero balance with no ledger history.
func NewSeeded() *Store {
	s := New()
	s.users = seedUsers()

	now := time.Now().UTC()
	for _, c := range []domain.Customer{
		{ID: "cus-ali-medical", Name: "Ali Medical Store", Phone: "03001234567", Role: domain.RoleCustomer},
		{ID: "cus-shifa-clinic", Name: "Shifa Clinic", Phone: "03217654321", Role: domain.RoleCustomer},
		{ID: "sup-getz-pharma", Name: "Getz Pharma Distribution", Role: domain.RoleSupplier},
	} {
		c.CreatedAt, c.UpdatedAt = now, now
		s.customers[c.ID] = c
	}
	for _, p := range []domain.Product{
		{ID: "prd-panadol-500", SKU: "PAN-500", Name: "Panadol 500mg (200s)", Price: money.MustParse("1450"), Quantity: 120},
		{ID: "prd-augmentin-625", SKU: "AUG-625", Name: "Augmentin 625mg (6s)", Price: money.MustParse("640.5"), Quantity: 80},
		{ID: "prd-risek-20", SKU: "RSK-20", Name: "Risek 20mg (14s)", Price: money.MustParse("415"), Quantity: 200},
		{ID: "prd-ors-sachet", SKU: "ORS-01", Name: "ORS Sachet", Price: money.MustParse("35"), Quantity: 1000},
	} {
		p.CreatedAt, p.UpdatedAt = now, now
		s.products[p.ID] = p
	}
	return s
}

// seedUsers builds the demo staff accounts. Passwords come from
// SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD and fall back to dev defaults.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"staff", staffPwd, "staff"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &txn{s: s}
	committed := false
	defer func() {
		if !committed {
			tx.rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.customers[id]
	if !ok {
		return nil, domain.NotFound("customer", id)
	}
	return &c, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b domain.Customer) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return nil, domain.NotFound("product", id)
	}
	return &p, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b domain.Product) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (s *Store) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, domain.NotFound("order", id)
	}
	return cloneOrder(o), nil
}

func (s *Store) FindOrderByIdempotency(_ context.Context, key string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orderByIdem(key)
}

func (s *Store) orderByIdem(key string) (*domain.Order, error) {
	id, ok := s.ordersByIdem[key]
	if !ok {
		return nil, domain.NotFound("order", key)
	}
	return cloneOrder(s.orders[id]), nil
}

func (s *Store) ListLedgerEntries(_ context.Context, filter domain.LedgerFilter) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.LedgerEntry, 0)
	for _, e := range s.ledger {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	sortLedger(out)
	return paginate(out, filter.Offset, filter.Limit), nil
}

func (s *Store) ListLedgerEntriesInSequence(_ context.Context) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.ledger), nil
}

func (s *Store) LastLedgerEntryBefore(_ context.Context, t time.Time) (*domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last *domain.LedgerEntry
	for i := range s.ledger {
		e := s.ledger[i]
		if !e.Date.Before(t) {
			continue
		}
		if last == nil || last.Before(e) {
			last = &e
		}
	}
	return last, nil
}

func (s *Store) ListAuditLogs(_ context.Context, filter domain.AuditFilter) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AuditLog, 0)
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if filter.EntityType != "" && entry.EntityType != filter.EntityType {
			continue
		}
		if filter.EntityID != "" && entry.EntityID != filter.EntityID {
			continue
		}
		if filter.Action != "" && entry.Action != filter.Action {
			continue
		}
		out = append(out, entry)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[user.Username]; exists {
		return store.ErrDuplicate
	}
	s.users[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	slices.SortFunc(out, func(a, b domain.UserAccount) int { return strings.Compare(a.Username, b.Username) })
	return out, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return domain.NotFound("user", username)
	}
	u.Password = password
	s.users[username] = u
	return nil
}

func sortLedger(entries []domain.LedgerEntry) {
	slices.SortFunc(entries, func(a, b domain.LedgerEntry) int {
		switch {
		case a.Before(b):
			return -1
		case b.Before(a):
			return 1
		default:
			return 0
		}
	})
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return []T{}
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func cloneOrder(o domain.Order) *domain.Order {
	o.Items = slices.Clone(o.Items)
	if o.Discount != nil {
		d := *o.Discount
		o.Discount = &d
	}
	return &o
}
