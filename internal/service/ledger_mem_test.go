package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"marketplace/internal/models"
	"marketplace/internal/store"

	"github.com/shopspring/decimal"
)

// memLedger is an in-memory Ledger with the same claim semantics the SQL
// store enforces: conditional transitions under one lock, all-or-nothing
// side effects.
type memLedger struct {
	mu          sync.Mutex
	nextID      int64
	orders      map[int64]*models.Order
	invoices    map[string]int64
	users       map[int64]*models.User
	products    map[int64]*models.Product
	tiers       map[int64]*models.MembershipTier
	tokens      map[string]*models.DownloadToken
	withdrawals map[int64]*models.WithdrawalRequest

	settlements int
}

func newMemLedger() *memLedger {
	return &memLedger{
		orders:      make(map[int64]*models.Order),
		invoices:    make(map[string]int64),
		users:       make(map[int64]*models.User),
		products:    make(map[int64]*models.Product),
		tiers:       make(map[int64]*models.MembershipTier),
		tokens:      make(map[string]*models.DownloadToken),
		withdrawals: make(map[int64]*models.WithdrawalRequest),
	}
}

func (m *memLedger) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memLedger) addUser(u models.User) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == 0 {
		u.ID = m.id()
	}
	m.users[u.ID] = &u
	return &u
}

func (m *memLedger) addProduct(p models.Product) *models.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == 0 {
		p.ID = m.id()
	}
	m.products[p.ID] = &p
	return &p
}

func (m *memLedger) addTier(t models.MembershipTier) *models.MembershipTier {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == 0 {
		t.ID = m.id()
	}
	m.tiers[t.ID] = &t
	return &t
}

func (m *memLedger) addWithdrawal(w models.WithdrawalRequest) *models.WithdrawalRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w.ID == 0 {
		w.ID = m.id()
	}
	m.withdrawals[w.ID] = &w
	return &w
}

func (m *memLedger) addToken(t models.DownloadToken) *models.DownloadToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == 0 {
		t.ID = m.id()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	m.tokens[t.Token] = &t
	return &t
}

func (m *memLedger) tokenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}

func (m *memLedger) activeTokenCount(orderID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int
	for _, t := range m.tokens {
		if t.OrderID == orderID && t.Valid(time.Now()) {
			n++
		}
	}
	return n
}

func (m *memLedger) CreateOrder(_ context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order.ID = m.id()
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	cp := *order
	m.orders[order.ID] = &cp
	if order.InvoiceID.Valid {
		m.invoices[order.InvoiceID.String] = order.ID
	}
	return nil
}

func (m *memLedger) OrderByID(_ context.Context, id int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, store.ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (m *memLedger) OrderByInvoiceID(_ context.Context, invoiceID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.invoices[invoiceID]
	if !ok {
		return nil, fmt.Errorf("invoice %s: %w", invoiceID, store.ErrNotFound)
	}
	cp := *m.orders[id]
	return &cp, nil
}

func (m *memLedger) OrdersByBuyer(_ context.Context, buyerID int64) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Order
	for _, o := range m.orders {
		if o.BuyerID.Valid && o.BuyerID.Int64 == buyerID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *memLedger) SettleOrder(_ context.Context, st models.Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[st.OrderID]
	if !ok {
		return fmt.Errorf("order %d: %w", st.OrderID, store.ErrNotFound)
	}
	if o.Status != models.OrderStatusPending {
		return fmt.Errorf("order %d: %w", st.OrderID, store.ErrOrderFinalized)
	}
	o.Status = models.OrderStatusCompleted
	o.UpdatedAt = time.Now()

	switch st.Kind {
	case models.OrderKindProduct:
		author := m.users[st.AuthorID.Int64]
		author.Income = author.Income.Add(st.Commission)
		author.Point = author.Point.Add(st.Commission)

		product := m.products[st.ProductID.Int64]
		product.Income = product.Income.Add(st.Amount)
		product.IsUnique = product.IsUnique || st.MarkUnique

		st.Token.ID = m.id()
		st.Token.CreatedAt = time.Now()
		cp := *st.Token
		m.tokens[cp.Token] = &cp

	case models.OrderKindRecharge:
		buyer := m.users[st.BuyerID.Int64]
		buyer.Income = buyer.Income.Add(st.Amount)

	case models.OrderKindMembership:
		buyer := m.users[st.BuyerID.Int64]
		buyer.MembershipTierID = st.TierID
	}

	m.settlements++
	return nil
}

func (m *memLedger) CancelOrder(_ context.Context, orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("order %d: %w", orderID, store.ErrNotFound)
	}
	if o.Status != models.OrderStatusPending {
		return fmt.Errorf("order %d: %w", orderID, store.ErrOrderFinalized)
	}
	o.Status = models.OrderStatusCancelled
	o.UpdatedAt = time.Now()
	return nil
}

func (m *memLedger) UserByID(_ context.Context, id int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, store.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (m *memLedger) ProductByID(_ context.Context, id int64) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", id, store.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (m *memLedger) TierByID(_ context.Context, id int64) (*models.MembershipTier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tiers[id]
	if !ok {
		return nil, fmt.Errorf("membership tier %d: %w", id, store.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (m *memLedger) TierForUser(_ context.Context, userID int64) (*models.MembershipTier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok || !u.MembershipTierID.Valid {
		return nil, nil
	}
	t, ok := m.tiers[u.MembershipTierID.Int64]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

// EnsureActiveToken mirrors the store's claim: lookup and insert happen
// under one lock, so concurrent re-issues cannot both insert.
func (m *memLedger) EnsureActiveToken(_ context.Context, orderID int64, fresh *models.DownloadToken) (*models.DownloadToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[orderID]; !ok {
		return nil, fmt.Errorf("order %d: %w", orderID, store.ErrNotFound)
	}
	for _, t := range m.tokens {
		if t.OrderID == orderID && t.Valid(time.Now()) {
			cp := *t
			return &cp, nil
		}
	}
	fresh.OrderID = orderID
	fresh.ID = m.id()
	fresh.CreatedAt = time.Now()
	cp := *fresh
	m.tokens[cp.Token] = &cp
	out := cp
	return &out, nil
}

func (m *memLedger) RedeemToken(_ context.Context, value string, now time.Time) (*models.DownloadToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[value]
	if !ok {
		return nil, fmt.Errorf("token: %w", store.ErrNotFound)
	}
	if t.IsUsed {
		return nil, fmt.Errorf("token for order %d: %w", t.OrderID, store.ErrTokenUsed)
	}
	if !now.Before(t.ExpiresAt) {
		return nil, fmt.Errorf("token for order %d: %w", t.OrderID, store.ErrTokenExpired)
	}
	t.IsUsed = true
	t.UsedAt.Time = now
	t.UsedAt.Valid = true
	cp := *t
	return &cp, nil
}

func (m *memLedger) WalletPurchase(_ context.Context, wp models.WalletPurchase) (*models.Order, decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	buyer, ok := m.users[wp.BuyerID]
	if !ok {
		return nil, decimal.Zero, fmt.Errorf("buyer %d: %w", wp.BuyerID, store.ErrNotFound)
	}
	if buyer.Income.LessThan(wp.Amount) {
		return nil, decimal.Zero, fmt.Errorf("required %s, available %s: %w",
			wp.Amount, buyer.Income, store.ErrInsufficientBalance)
	}
	buyer.Income = buyer.Income.Sub(wp.Amount)
	balance := buyer.Income

	order := &models.Order{
		ID:            m.id(),
		BuyerID:       nullInt64(wp.BuyerID),
		ProductID:     nullInt64(wp.ProductID),
		Kind:          models.OrderKindProduct,
		Amount:        wp.Amount,
		PaymentMethod: models.PaymentMethodWallet,
		Status:        models.OrderStatusCompleted,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	m.orders[order.ID] = order

	wp.Token.OrderID = order.ID
	wp.Token.ID = m.id()
	wp.Token.CreatedAt = time.Now()
	cp := *wp.Token
	m.tokens[cp.Token] = &cp

	product := m.products[wp.ProductID]
	product.Income = product.Income.Add(wp.Amount)
	product.IsUnique = product.IsUnique || wp.MarkUnique

	author := m.users[wp.AuthorID]
	author.Income = author.Income.Add(wp.Commission)
	author.Point = author.Point.Add(wp.Commission)
	if wp.BuyerID == wp.AuthorID {
		balance = author.Income
	}

	ocp := *order
	return &ocp, balance, nil
}

func (m *memLedger) CreateWithdrawal(_ context.Context, authorID int64, amount decimal.Decimal) (*models.WithdrawalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	author, ok := m.users[authorID]
	if !ok {
		return nil, fmt.Errorf("author %d: %w", authorID, store.ErrNotFound)
	}

	reserved := decimal.Zero
	for _, w := range m.withdrawals {
		if w.AuthorID == authorID &&
			(w.Status == models.WithdrawalStatusPending || w.Status == models.WithdrawalStatusApproved) {
			reserved = reserved.Add(w.Amount)
		}
	}
	available := author.Income.Sub(reserved)
	if amount.GreaterThan(available) {
		return nil, fmt.Errorf("required %s, available %s: %w",
			amount, available, store.ErrInsufficientBalance)
	}

	req := &models.WithdrawalRequest{
		ID:        m.id(),
		AuthorID:  authorID,
		Amount:    amount,
		Status:    models.WithdrawalStatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	m.withdrawals[req.ID] = req
	cp := *req
	return &cp, nil
}

func (m *memLedger) ApproveWithdrawal(_ context.Context, requestID int64) (*models.WithdrawalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.withdrawals[requestID]
	if !ok {
		return nil, fmt.Errorf("withdrawal request %d: %w", requestID, store.ErrNotFound)
	}
	if req.Status != models.WithdrawalStatusPending {
		return nil, fmt.Errorf("withdrawal request %d is %s: %w",
			requestID, req.Status, store.ErrWithdrawalNotPending)
	}

	author := m.users[req.AuthorID]
	if author.Income.LessThan(req.Amount) {
		return nil, fmt.Errorf("withdrawal of %s: %w", req.Amount, store.ErrInsufficientBalance)
	}
	author.Income = author.Income.Sub(req.Amount)

	req.Status = models.WithdrawalStatusApproved
	req.UpdatedAt = time.Now()
	cp := *req
	return &cp, nil
}

func (m *memLedger) RejectWithdrawal(_ context.Context, requestID int64) (*models.WithdrawalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.withdrawals[requestID]
	if !ok {
		return nil, fmt.Errorf("withdrawal request %d: %w", requestID, store.ErrNotFound)
	}
	if req.Status != models.WithdrawalStatusPending {
		return nil, fmt.Errorf("withdrawal request %d is %s: %w",
			requestID, req.Status, store.ErrWithdrawalNotPending)
	}
	req.Status = models.WithdrawalStatusRejected
	req.UpdatedAt = time.Now()
	cp := *req
	return &cp, nil
}

func (m *memLedger) CompleteWithdrawal(_ context.Context, requestID int64) (*models.WithdrawalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.withdrawals[requestID]
	if !ok {
		return nil, fmt.Errorf("withdrawal request %d: %w", requestID, store.ErrNotFound)
	}
	if req.Status != models.WithdrawalStatusApproved {
		return nil, fmt.Errorf("withdrawal request %d is %s: %w",
			requestID, req.Status, store.ErrWithdrawalNotApproved)
	}
	req.Status = models.WithdrawalStatusCompleted
	req.UpdatedAt = time.Now()
	cp := *req
	return &cp, nil
}

func (m *memLedger) WithdrawalByID(_ context.Context, requestID int64) (*models.WithdrawalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.withdrawals[requestID]
	if !ok {
		return nil, fmt.Errorf("withdrawal request %d: %w", requestID, store.ErrNotFound)
	}
	cp := *req
	return &cp, nil
}

func (m *memLedger) WithdrawalsByAuthor(_ context.Context, authorID int64) ([]models.WithdrawalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.WithdrawalRequest
	for _, w := range m.withdrawals {
		if w.AuthorID == authorID {
			out = append(out, *w)
		}
	}
	return out, nil
}

func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: true}
}
