package service

import (
	"context"
	"sync"
	"testing"

	"marketplace/internal/models"
	"marketplace/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithdrawalService_Create(t *testing.T) {
	mem := newMemLedger()
	author := mem.addUser(models.User{Name: "author", Income: dec("5000")})
	ws := NewWithdrawalService(mem, nil)
	ctx := context.Background()

	req, err := ws.Create(ctx, author.ID, dec("3000"))
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalStatusPending, req.Status)
	assert.True(t, req.Amount.Equal(dec("3000")))

	// Income is untouched until approval, but pending requests reserve it.
	got, err := mem.UserByID(ctx, author.ID)
	require.NoError(t, err)
	assert.True(t, got.Income.Equal(dec("5000")))

	_, err = ws.Create(ctx, author.ID, dec("2001"))
	assert.ErrorIs(t, err, store.ErrInsufficientBalance,
		"available is income minus pending reservations")

	_, err = ws.Create(ctx, author.ID, dec("2000"))
	assert.NoError(t, err, "exactly the remaining available amount")

	_, err = ws.Create(ctx, author.ID, dec("-10"))
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestWithdrawalService_ApproveDebitsIncome(t *testing.T) {
	mem := newMemLedger()
	author := mem.addUser(models.User{Name: "author", Income: dec("5000")})
	ws := NewWithdrawalService(mem, nil)
	ctx := context.Background()

	req, err := ws.Create(ctx, author.ID, dec("3000"))
	require.NoError(t, err)

	approved, err := ws.Approve(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalStatusApproved, approved.Status)

	got, err := mem.UserByID(ctx, author.ID)
	require.NoError(t, err)
	assert.True(t, got.Income.Equal(dec("2000")))

	// Terminal transitions from approved.
	_, err = ws.Approve(ctx, req.ID)
	assert.ErrorIs(t, err, store.ErrWithdrawalNotPending)

	completed, err := ws.Complete(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalStatusCompleted, completed.Status)

	_, err = ws.Complete(ctx, req.ID)
	assert.ErrorIs(t, err, store.ErrWithdrawalNotApproved)
}

func TestWithdrawalService_ApproveRechecksBalance(t *testing.T) {
	mem := newMemLedger()
	author := mem.addUser(models.User{Name: "author", Income: dec("5000")})
	ws := NewWithdrawalService(mem, nil)
	ctx := context.Background()

	req, err := ws.Create(ctx, author.ID, dec("3000"))
	require.NoError(t, err)

	// Income drops between filing and approval. The approval-time debit
	// guard must catch it.
	mem.mu.Lock()
	mem.users[author.ID].Income = dec("1000")
	mem.mu.Unlock()

	_, err = ws.Approve(ctx, req.ID)
	assert.ErrorIs(t, err, store.ErrInsufficientBalance)

	got, err := mem.WithdrawalByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalStatusPending, got.Status, "failed approval leaves the request pending")
}

func TestWithdrawalService_Reject(t *testing.T) {
	mem := newMemLedger()
	author := mem.addUser(models.User{Name: "author", Income: dec("5000")})
	ws := NewWithdrawalService(mem, nil)
	ctx := context.Background()

	req, err := ws.Create(ctx, author.ID, dec("5000"))
	require.NoError(t, err)

	rejected, err := ws.Reject(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalStatusRejected, rejected.Status)

	got, err := mem.UserByID(ctx, author.ID)
	require.NoError(t, err)
	assert.True(t, got.Income.Equal(dec("5000")), "rejection never touches income")

	// The rejected amount is no longer reserved.
	_, err = ws.Create(ctx, author.ID, dec("5000"))
	assert.NoError(t, err)

	_, err = ws.Reject(ctx, req.ID)
	assert.ErrorIs(t, err, store.ErrWithdrawalNotPending)
}

func TestWithdrawalService_ConcurrentApprovals(t *testing.T) {
	mem := newMemLedger()
	author := mem.addUser(models.User{Name: "author", Income: dec("5000")})
	ws := NewWithdrawalService(mem, nil)
	ctx := context.Background()

	// Two pending requests whose sum exceeds the balance. Seeded directly:
	// Create would reject the second, but stale requests like these can
	// exist after income was spent elsewhere.
	a := mem.addWithdrawal(models.WithdrawalRequest{
		AuthorID: author.ID, Amount: dec("3000"), Status: models.WithdrawalStatusPending,
	})
	b := mem.addWithdrawal(models.WithdrawalRequest{
		AuthorID: author.ID, Amount: dec("3000"), Status: models.WithdrawalStatusPending,
	})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []int64{a.ID, b.ID} {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			_, errs[i] = ws.Approve(ctx, id)
		}(i, id)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, store.ErrInsufficientBalance)
		}
	}
	assert.Equal(t, 1, ok, "only one of the competing approvals may debit")

	got, err := mem.UserByID(ctx, author.ID)
	require.NoError(t, err)
	assert.True(t, got.Income.Equal(dec("2000")), "income must never go negative, got %s", got.Income)
}

func TestWithdrawalService_List(t *testing.T) {
	mem := newMemLedger()
	author := mem.addUser(models.User{Name: "author", Income: dec("9000")})
	other := mem.addUser(models.User{Name: "other", Income: dec("9000")})
	ws := NewWithdrawalService(mem, nil)
	ctx := context.Background()

	_, err := ws.Create(ctx, author.ID, dec("1000"))
	require.NoError(t, err)
	_, err = ws.Create(ctx, author.ID, dec("2000"))
	require.NoError(t, err)
	_, err = ws.Create(ctx, other.ID, dec("500"))
	require.NoError(t, err)

	list, err := ws.List(ctx, author.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
