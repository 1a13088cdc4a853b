package cart

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/storefront-tx-go/internal/order/domain"
)

func watch() domain.CartItem {
	return domain.CartItem{ID: "w", Name: "Smart Watch", Price: decimal.RequireFromString("249.99"), ImageURL: "u", ImageHint: "watch"}
}

func bag() domain.CartItem {
	return domain.CartItem{ID: "b", Name: "Durable Backpack", Price: decimal.RequireFromString("89.99")}
}

func loaded(t *testing.T, st Storage) *Cart {
	t.Helper()
	c := New(st, "s1")
	require.NoError(t, c.Load(context.Background()))
	t.Cleanup(c.Close)
	return c
}

func snap(t *testing.T, c *Cart) Snapshot {
	t.Helper()
	s, err := c.Snapshot()
	require.NoError(t, err)
	return s
}

func TestCart_RejectsUseBeforeLoad(t *testing.T) {
	st := NewMemoryStorage()
	c := New(st, "s1")
	defer c.Close()

	assert.ErrorIs(t, c.AddItem(watch(), 1), ErrNotReady)
	assert.ErrorIs(t, c.UpdateQuantity("w", 2), ErrNotReady)
	assert.ErrorIs(t, c.RemoveItem("w"), ErrNotReady)
	assert.ErrorIs(t, c.Clear(), ErrNotReady)
	_, err := c.Snapshot()
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Zero(t, st.Saves())
}

func TestCart_LoadDoesNotClobberExistingSlot(t *testing.T) {
	st := NewMemoryStorage()
	raw, err := domain.EncodeItems([]domain.CartItem{{ID: "b", Name: "Durable Backpack", Price: decimal.RequireFromString("89.99"), Quantity: 2}})
	require.NoError(t, err)
	st.Put("s1", raw)

	c := loaded(t, st)
	require.NoError(t, c.Flush(context.Background()))
	assert.Zero(t, st.Saves())

	s := snap(t, c)
	assert.Equal(t, 2, s.ItemCount())
	got, _ := st.Raw("s1")
	assert.JSONEq(t, string(raw), string(got))
}

func TestCart_AddMergesLines(t *testing.T) {
	c := loaded(t, NewMemoryStorage())
	require.NoError(t, c.AddItem(watch(), 1))
	require.NoError(t, c.AddItem(bag(), 1))
	require.NoError(t, c.AddItem(watch(), 2))

	s := snap(t, c)
	require.Len(t, s.Items(), 2)
	assert.Equal(t, 3, s.Items()[0].Quantity)
	assert.Equal(t, 4, s.ItemCount())
	assert.True(t, s.TotalPrice().Equal(decimal.RequireFromString("839.96")), "total %s", s.TotalPrice())

	assert.ErrorIs(t, c.AddItem(watch(), 0), domain.ErrInvalidQuantity)
}

func TestCart_QuantityFloorRemovesLine(t *testing.T) {
	c := loaded(t, NewMemoryStorage())
	require.NoError(t, c.AddItem(watch(), 2))
	require.NoError(t, c.AddItem(bag(), 1))

	require.NoError(t, c.UpdateQuantity("w", 0))
	require.NoError(t, c.UpdateQuantity("b", -3))
	assert.True(t, snap(t, c).Empty())

	require.NoError(t, c.UpdateQuantity("missing", 5))
	require.NoError(t, c.RemoveItem("missing"))
	assert.True(t, snap(t, c).Empty())
}

func TestCart_SnapshotIsIsolated(t *testing.T) {
	c := loaded(t, NewMemoryStorage())
	require.NoError(t, c.AddItem(watch(), 1))
	s := snap(t, c)

	require.NoError(t, c.AddItem(watch(), 5))
	require.NoError(t, c.Clear())
	items := s.Items()
	items[0].Quantity = 99

	assert.Equal(t, 1, s.Items()[0].Quantity)
	assert.True(t, snap(t, c).Empty())
}

func TestCart_PersistsLatestState(t *testing.T) {
	st := NewMemoryStorage()
	c := loaded(t, st)
	for i := 0; i < 50; i++ {
		require.NoError(t, c.AddItem(watch(), 1))
	}
	require.NoError(t, c.Flush(context.Background()))

	raw, ok := st.Raw("s1")
	require.True(t, ok)
	items, err := domain.DecodeItems(raw, "cart", "s1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 50, items[0].Quantity)
	assert.LessOrEqual(t, st.Saves(), 50)
}

func TestCart_SaveFailureIsNotSurfaced(t *testing.T) {
	st := NewMemoryStorage()
	st.FailWith(errors.New("quota exceeded"))
	c := loaded(t, st)

	require.NoError(t, c.AddItem(watch(), 1))
	require.NoError(t, c.Flush(context.Background()))
	assert.Equal(t, 1, snap(t, c).ItemCount())

	st.FailWith(nil)
	require.NoError(t, c.AddItem(bag(), 1))
	require.NoError(t, c.Flush(context.Background()))
	raw, ok := st.Raw("s1")
	require.True(t, ok)
	items, err := domain.DecodeItems(raw, "cart", "s1")
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestCart_CorruptSlotStartsEmpty(t *testing.T) {
	st := NewMemoryStorage()
	st.Put("s1", []byte(`[{"id":"w","quantity":"lots"}]`))
	c := New(st, "s1")
	t.Cleanup(c.Close)

	var malformed *domain.MalformedRecordError
	assert.ErrorAs(t, c.Load(context.Background()), &malformed)
	assert.True(t, snap(t, c).Empty())
	require.NoError(t, c.AddItem(watch(), 1))
}

func TestCart_ConcurrentMutations(t *testing.T) {
	st := NewMemoryStorage()
	c := loaded(t, st)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				assert.NoError(t, c.AddItem(bag(), 1))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, c.Flush(context.Background()))

	assert.Equal(t, 200, snap(t, c).ItemCount())
	items, _, err := st.Load(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 200, items[0].Quantity)
}

func TestPebbleStorage_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	st, err := OpenPebble(dir)
	require.NoError(t, err)

	c := New(st, "alice")
	require.NoError(t, c.Load(context.Background()))
	require.NoError(t, c.AddItem(watch(), 2))
	require.NoError(t, c.AddItem(bag(), 1))
	c.Close()
	require.NoError(t, st.Close())

	st, err = OpenPebble(dir)
	require.NoError(t, err)
	defer st.Close()

	items, ok, err := st.Load(context.Background(), "alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, items, 2)
	assert.Equal(t, watch().ImageHint, items[0].ImageHint)
	assert.True(t, items[0].Price.Equal(watch().Price))
	assert.Equal(t, 2, items[0].Quantity)

	_, ok, err = st.Load(context.Background(), "bob")
	require.NoError(t, err)
	assert.False(t, ok)
}
