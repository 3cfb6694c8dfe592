package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alturino/storefront/internal/storage"
)

var epoch = time.Date(2024, time.December, 1, 9, 0, 0, 0, time.UTC)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func item(id string, price string) Item {
	return Item{ID: id, Price: decimal.RequireFromString(price)}
}

func requireTotals(t *testing.T, snap Snapshot) {
	t.Helper()
	subtotal := decimal.Zero
	count := 0
	for _, l := range snap.Lines {
		assert.True(t, l.Price.Mul(decimal.NewFromInt(int64(l.Quantity))).Equal(l.LineTotal), "line %s total", l.ID)
		assert.GreaterOrEqual(t, l.Quantity, 1)
		subtotal = subtotal.Add(l.LineTotal)
		count += l.Quantity
	}
	assert.True(t, subtotal.Equal(snap.Subtotal), "subtotal %s != %s", snap.Subtotal, subtotal)
	assert.True(t, snap.Total.Equal(snap.Subtotal))
	assert.Equal(t, count, snap.ItemCount)
}

func TestStoreIncrementRecomputesTotals(t *testing.T) {
	c := context.Background()
	s := New(c, storage.NewMemory())

	s.AddLine(c, item("line-1", "100"), 2)
	snap := s.Snapshot()
	require.Len(t, snap.Lines, 1)
	assert.True(t, decimal.NewFromInt(200).Equal(snap.Subtotal))

	s.Increment(c, "line-1")
	snap = s.Snapshot()
	assert.Equal(t, 3, snap.Lines[0].Quantity)
	assert.True(t, decimal.NewFromInt(300).Equal(snap.Lines[0].LineTotal))
	assert.True(t, decimal.NewFromInt(300).Equal(snap.Subtotal))
	requireTotals(t, snap)
}

func TestStoreMutations(t *testing.T) {
	testCases := []struct {
		name          string
		mutate        func(c context.Context, s *Store)
		expectedQty   map[string]int
		expectedTotal string
	}{
		{
			name: "given quantity zero should clamp to one",
			mutate: func(c context.Context, s *Store) {
				s.AddLine(c, item("a", "9.99"), 0)
			},
			expectedQty:   map[string]int{"a": 1},
			expectedTotal: "9.99",
		},
		{
			name: "given decrement at one should keep the line",
			mutate: func(c context.Context, s *Store) {
				s.AddLine(c, item("a", "5"), 1)
				s.Decrement(c, "a")
			},
			expectedQty:   map[string]int{"a": 1},
			expectedTotal: "5",
		},
		{
			name: "given decrement above one should lower quantity",
			mutate: func(c context.Context, s *Store) {
				s.AddLine(c, item("a", "2.50"), 3)
				s.Decrement(c, "a")
			},
			expectedQty:   map[string]int{"a": 2},
			expectedTotal: "5",
		},
		{
			name: "given remove should drop only that line",
			mutate: func(c context.Context, s *Store) {
				s.AddLine(c, item("a", "1"), 1)
				s.AddLine(c, item("b", "2"), 2)
				s.RemoveLine(c, "a")
			},
			expectedQty:   map[string]int{"b": 2},
			expectedTotal: "4",
		},
		{
			name: "given unknown id should change nothing",
			mutate: func(c context.Context, s *Store) {
				s.AddLine(c, item("a", "1"), 1)
				s.Increment(c, "missing")
				s.Decrement(c, "missing")
				s.RemoveLine(c, "missing")
			},
			expectedQty:   map[string]int{"a": 1},
			expectedTotal: "1",
		},
		{
			name: "given clear should empty the cart",
			mutate: func(c context.Context, s *Store) {
				s.AddLine(c, item("a", "1"), 1)
				s.Clear(c)
			},
			expectedQty:   map[string]int{},
			expectedTotal: "0",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := context.Background()
			s := New(c, storage.NewMemory())
			tc.mutate(c, s)

			snap := s.Snapshot()
			requireTotals(t, snap)
			qty := map[string]int{}
			for _, l := range snap.Lines {
				qty[l.ID] = l.Quantity
			}
			assert.Equal(t, tc.expectedQty, qty)
			assert.True(t, decimal.RequireFromString(tc.expectedTotal).Equal(snap.Total), "total %s", snap.Total)
		})
	}
}

func TestStoreSnapshotIsACopy(t *testing.T) {
	c := context.Background()
	s := New(c, storage.NewMemory())
	s.AddLine(c, Item{ID: "a", Price: decimal.NewFromInt(1), Attributes: map[string]any{"size": "M"}}, 1)

	snap := s.Snapshot()
	snap.Lines[0].Quantity = 99
	snap.Lines[0].Attributes["size"] = "XL"

	again := s.Snapshot()
	assert.Equal(t, 1, again.Lines[0].Quantity)
	assert.Equal(t, "M", again.Lines[0].Attributes["size"])
}

func TestStoreRestoresWithinTTL(t *testing.T) {
	testCases := []struct {
		name          string
		elapsed       time.Duration
		expectedLines int
	}{
		{name: "given fresh record should restore", elapsed: 0, expectedLines: 1},
		{name: "given record just under ttl should restore", elapsed: 2*time.Hour - time.Millisecond, expectedLines: 1},
		{name: "given record at ttl should discard", elapsed: 2 * time.Hour, expectedLines: 0},
		{name: "given record past ttl should discard", elapsed: 3 * time.Hour, expectedLines: 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := context.Background()
			mem := storage.NewMemory()
			clk := &clock{now: epoch}

			first := New(c, mem, WithClock(clk.Now), WithTTL(2*time.Hour))
			first.AddLine(c, item("a", "12.34"), 2)

			clk.now = epoch.Add(tc.elapsed)
			second := New(c, mem, WithClock(clk.Now), WithTTL(2*time.Hour))
			snap := second.Snapshot()
			assert.Len(t, snap.Lines, tc.expectedLines)

			_, err := mem.Get(c, DefaultKey)
			if tc.expectedLines == 0 {
				assert.ErrorIs(t, err, storage.ErrNotFound, "expired record should be deleted")
				return
			}
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString("24.68").Equal(snap.Subtotal))
		})
	}
}

func TestStoreDiscardsCorruptRecord(t *testing.T) {
	testCases := []struct {
		name string
		data string
	}{
		{name: "given invalid json should discard", data: `{"lines":`},
		{name: "given missing savedAt should discard", data: `{"lines":[{"id":"a","price":1,"quantity":1,"lineTotal":1}]}`},
		{name: "given empty lines should discard", data: `{"lines":[],"savedAt":1733043600000}`},
		{name: "given zero quantity should discard", data: `{"lines":[{"id":"a","price":1,"quantity":0,"lineTotal":0}],"savedAt":1733043600000}`},
		{name: "given non numeric price should discard", data: `{"lines":[{"id":"a","price":"x","quantity":1,"lineTotal":1}],"savedAt":1733043600000}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := context.Background()
			mem := storage.NewMemory()
			require.NoError(t, mem.Set(c, DefaultKey, []byte(tc.data)))

			s := New(c, mem, WithClock(func() time.Time { return epoch }))
			assert.True(t, s.Snapshot().Empty())

			_, err := mem.Get(c, DefaultKey)
			assert.ErrorIs(t, err, storage.ErrNotFound)
		})
	}
}

func TestStoreRecomputesStoredLineTotal(t *testing.T) {
	c := context.Background()
	mem := storage.NewMemory()
	data := `{"lines":[{"id":"a","price":"2.5","quantity":4,"lineTotal":"999"}],"savedAt":1733043600000}`
	require.NoError(t, mem.Set(c, DefaultKey, []byte(data)))

	s := New(c, mem, WithClock(func() time.Time { return epoch }))
	snap := s.Snapshot()
	require.Len(t, snap.Lines, 1)
	assert.True(t, decimal.NewFromInt(10).Equal(snap.Lines[0].LineTotal))
}

func TestStoreDeletesKeyWhenEmptied(t *testing.T) {
	c := context.Background()
	mem := storage.NewMemory()
	s := New(c, mem)

	s.AddLine(c, item("a", "1"), 1)
	_, err := mem.Get(c, DefaultKey)
	require.NoError(t, err)

	s.RemoveLine(c, "a")
	_, err = mem.Get(c, DefaultKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

type failingStorage struct{}

func (failingStorage) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("connection refused")
}

func (failingStorage) Set(context.Context, string, []byte) error {
	return errors.New("connection refused")
}

func (failingStorage) Delete(context.Context, string) error {
	return errors.New("connection refused")
}

func TestStoreIgnoresStorageFailures(t *testing.T) {
	c := context.Background()
	s := New(c, failingStorage{})

	s.AddLine(c, item("a", "3"), 2)
	s.Clear(c)
	s.AddLine(c, item("b", "4"), 1)

	snap := s.Snapshot()
	require.Len(t, snap.Lines, 1)
	assert.Equal(t, "b", snap.Lines[0].ID)
}
