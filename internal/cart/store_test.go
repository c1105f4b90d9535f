package cart

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/threadline-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/threadline-backend/pkg/errors"
)

func testProduct(name string, price int64) models.Product {
	return models.Product{
		ID:       uuid.New(),
		Name:     name,
		Price:    decimal.NewFromInt(price),
		Category: "tops",
		ImageURL: "https://cdn.example.com/" + name + ".jpg",
		Sizes:    []string{"S", "M", "L"},
	}
}

func TestStoreDuplicateAddRejected(t *testing.T) {
	store := NewStore(State{})
	p1 := testProduct("p1", 5000)

	op, err := store.AddLine(p1, "M")
	require.NoError(t, err)
	assert.Equal(t, MirrorUpsertIncrement, op.Kind)
	assert.Equal(t, 1, op.Line.Quantity)

	_, err = store.AddLine(p1, "M")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
	assert.Contains(t, err.Error(), "This item in size M is already in your cart!")

	assert.Equal(t, 1, store.LineCount())
	assert.True(t, decimal.NewFromInt(5000).Equal(store.Total()))
}

func TestStoreSameProductDifferentSizes(t *testing.T) {
	store := NewStore(State{})
	p1 := testProduct("p1", 5000)

	_, err := store.AddLine(p1, "M")
	require.NoError(t, err)
	_, err = store.AddLine(p1, "L")
	require.NoError(t, err)

	assert.Equal(t, 2, store.LineCount())
	assert.True(t, decimal.NewFromInt(10000).Equal(store.Total()))
}

func TestStoreTotalsAndRemoval(t *testing.T) {
	store := NewStore(State{})
	p1 := testProduct("p1", 5000)
	p2 := testProduct("p2", 3000)

	_, err := store.AddLine(p1, "M")
	require.NoError(t, err)
	_, err = store.AddLine(p2, "L")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(8000).Equal(store.Total()))
	assert.Equal(t, 2, store.LineCount())

	op := store.DecreaseQuantity(p1.ID, "M")
	assert.True(t, op.IsZero(), "decrease at quantity 1 is a no-op")
	assert.Equal(t, 2, store.LineCount())

	op, notice := store.RemoveLine(p1.ID, "M")
	assert.Empty(t, notice)
	assert.Equal(t, MirrorDelete, op.Kind)
	assert.Equal(t, p1.ID, op.Line.ProductID)
	assert.True(t, decimal.NewFromInt(3000).Equal(store.Total()))
	assert.Equal(t, 1, store.LineCount())
}

func TestStoreQuantityFloor(t *testing.T) {
	store := NewStore(State{})
	p1 := testProduct("p1", 1500)
	_, err := store.AddLine(p1, "S")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		op := store.IncreaseQuantity(p1.ID, "S")
		assert.Equal(t, MirrorSetQuantity, op.Kind)
	}
	assert.Equal(t, 4, store.State().Lines[0].Quantity)

	for i := 0; i < 10; i++ {
		store.DecreaseQuantity(p1.ID, "S")
		require.GreaterOrEqual(t, store.State().Lines[0].Quantity, 1)
	}
	assert.Equal(t, 1, store.State().Lines[0].Quantity)
	assert.True(t, decimal.NewFromInt(1500).Equal(store.Total()))
}

func TestStoreDecreaseMirrorsNewQuantity(t *testing.T) {
	store := NewStore(State{})
	p1 := testProduct("p1", 1000)
	_, err := store.AddLine(p1, "M")
	require.NoError(t, err)
	store.IncreaseQuantity(p1.ID, "M")

	op := store.DecreaseQuantity(p1.ID, "M")
	assert.Equal(t, MirrorSetQuantity, op.Kind)
	assert.Equal(t, 1, op.Line.Quantity)
}

func TestStoreSizeResolution(t *testing.T) {
	p1 := testProduct("p1", 5000)

	t.Run("missing size", func(t *testing.T) {
		store := NewStore(State{})
		_, err := store.AddLine(p1, "")
		assert.ErrorIs(t, err, ErrSizeRequired)
		assert.True(t, store.IsEmpty())
	})

	t.Run("sentinel counts as no size", func(t *testing.T) {
		store := NewStore(State{})
		_, err := store.AddLine(p1, NoSizeSentinel)
		assert.ErrorIs(t, err, ErrSizeRequired)
	})

	t.Run("falls back to pending selection", func(t *testing.T) {
		store := NewStore(State{})
		store.SelectSize("L")
		op, err := store.AddLine(p1, "")
		require.NoError(t, err)
		assert.Equal(t, "L", op.Line.Size)
		assert.Empty(t, store.State().PendingSize, "pending size resets after add")
	})
}

func TestStoreRemoveFromEmptyCart(t *testing.T) {
	store := NewStore(State{})
	op, notice := store.RemoveLine(uuid.New(), "M")
	assert.True(t, op.IsZero())
	assert.Equal(t, NoticeCartEmpty, notice)
}

func TestStoreRemoveAbsentLine(t *testing.T) {
	store := NewStore(State{})
	_, err := store.AddLine(testProduct("p1", 100), "M")
	require.NoError(t, err)

	op, notice := store.RemoveLine(uuid.New(), "M")
	assert.True(t, op.IsZero())
	assert.Empty(t, notice)
	assert.Equal(t, 1, store.LineCount())
}

func TestStoreClear(t *testing.T) {
	store := NewStore(State{PendingSize: "M"})
	_, err := store.AddLine(testProduct("p1", 100), "S")
	require.NoError(t, err)

	op := store.Clear()
	assert.Equal(t, MirrorDeleteAll, op.Kind)
	assert.True(t, store.IsEmpty())
	assert.Empty(t, store.State().PendingSize)
}

func TestStoreEmptyRemoteKeepsLocal(t *testing.T) {
	store := NewStore(State{})
	p1 := testProduct("p1", 5000)
	_, err := store.AddLine(p1, "M")
	require.NoError(t, err)

	user := uuid.New()
	require.True(t, store.ObserveIdentity(&user))
	replaced := store.LoadForIdentity(user, nil)

	assert.False(t, replaced)
	require.Len(t, store.State().Lines, 1)
	assert.Equal(t, p1.ID, store.State().Lines[0].ProductID)
	assert.False(t, store.ObserveIdentity(&user), "load happens once per identity")
}

func TestStoreNonEmptyRemoteReplacesLocal(t *testing.T) {
	store := NewStore(State{})
	_, err := store.AddLine(testProduct("p1", 5000), "M")
	require.NoError(t, err)

	user := uuid.New()
	remote := []Line{
		{ProductID: uuid.New(), Name: "p3", UnitPrice: decimal.NewFromInt(2000), Size: "S", Quantity: 2},
	}
	require.True(t, store.ObserveIdentity(&user))
	replaced := store.LoadForIdentity(user, remote)

	assert.True(t, replaced)
	lines := store.State().Lines
	require.Len(t, lines, 1)
	assert.Equal(t, remote[0].ProductID, lines[0].ProductID)
	assert.True(t, decimal.NewFromInt(4000).Equal(store.Total()))
}

func TestStoreLoadGuard(t *testing.T) {
	user := uuid.New()
	store := NewStore(State{})
	store.ObserveIdentity(&user)
	store.LoadForIdentity(user, nil)

	remote := []Line{{ProductID: uuid.New(), UnitPrice: decimal.NewFromInt(1), Size: "M", Quantity: 1}}
	assert.False(t, store.LoadForIdentity(user, remote), "second load for the same identity is ignored")
	assert.True(t, store.IsEmpty())

	other := uuid.New()
	assert.True(t, store.ObserveIdentity(&other), "a different identity loads again")
}

func TestStoreSignOutKeepsLines(t *testing.T) {
	user := uuid.New()
	store := NewStore(State{})
	store.ObserveIdentity(&user)
	store.LoadForIdentity(user, nil)
	_, err := store.AddLine(testProduct("p1", 700), "M")
	require.NoError(t, err)

	assert.False(t, store.ObserveIdentity(nil))
	assert.Nil(t, store.Identity())
	assert.False(t, store.Reconciled())
	assert.Equal(t, 1, store.LineCount())

	assert.False(t, store.ObserveIdentity(&user), "same identity is not loaded twice in a session")
	assert.True(t, store.Reconciled())
}

func TestStoreReconciledOnlyAfterLoad(t *testing.T) {
	user := uuid.New()
	store := NewStore(State{})
	assert.False(t, store.Reconciled(), "guest")

	require.True(t, store.ObserveIdentity(&user))
	assert.False(t, store.Reconciled(), "signed in, load pending")

	store.LoadForIdentity(user, nil)
	assert.True(t, store.Reconciled())

	other := uuid.New()
	require.True(t, store.ObserveIdentity(&other))
	assert.False(t, store.Reconciled(), "switching users waits for the new load")
}

func TestStoreDropsZeroQuantityLines(t *testing.T) {
	store := NewStore(State{Lines: []Line{
		{ProductID: uuid.New(), UnitPrice: decimal.NewFromInt(100), Size: "M", Quantity: 0},
		{ProductID: uuid.New(), UnitPrice: decimal.NewFromInt(100), Size: "L", Quantity: 1},
	}})
	assert.Equal(t, 1, store.LineCount())
}

func TestSnapshotDerivedValues(t *testing.T) {
	store := NewStore(State{})
	snap := store.Snapshot()
	assert.True(t, snap.IsEmpty)
	assert.NotNil(t, snap.Lines)
	assert.True(t, decimal.Zero.Equal(snap.Total))

	p1 := testProduct("p1", 2500)
	_, err := store.AddLine(p1, "M")
	require.NoError(t, err)
	store.IncreaseQuantity(p1.ID, "M")

	snap = store.Snapshot()
	assert.False(t, snap.IsEmpty)
	assert.Equal(t, 1, snap.LineCount)
	assert.True(t, decimal.NewFromInt(5000).Equal(snap.Total))
}
