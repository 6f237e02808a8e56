package zones_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing/internal/pricing"
	"github.com/noah-isme/toko-pricing/internal/zones"
)

type fakeRows struct {
	rows [][]any
	idx  int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Values() ([]any, error) {
	return r.rows[r.idx-1], nil
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.idx-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: want %d columns, got %d", len(row), len(dest))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *int:
			*p = row[i].(int)
		case *string:
			*p = row[i].(string)
		case *bool:
			*p = row[i].(bool)
		default:
			return fmt.Errorf("scan: unsupported destination %T", d)
		}
	}
	return nil
}

type fakeQuerier struct {
	zones     [][]any
	locations [][]any
	methods   [][]any
	err       error
}

func (q fakeQuerier) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	if q.err != nil {
		return nil, q.err
	}
	switch {
	case strings.Contains(sql, "shipping_zone_locations"):
		return &fakeRows{rows: q.locations}, nil
	case strings.Contains(sql, "shipping_zone_methods"):
		return &fakeRows{rows: q.methods}, nil
	default:
		return &fakeRows{rows: q.zones}, nil
	}
}

func TestStoreLoad(t *testing.T) {
	store := zones.Store{Q: fakeQuerier{
		zones: [][]any{{0, "Everywhere else"}, {3, "Wroclaw"}, {5, "Poland"}},
		locations: [][]any{
			{3, "51000...51999"},
			{5, "5*"},
			{9, "orphan"},
		},
		methods: [][]any{
			{0, "flat_rate:1", "International", true, "99.00", ""},
			{3, "flat_rate:7", "Courier", true, "25.00", "1-2 days"},
			{5, "free:2", "Free", false, "0.00", ""},
		},
	}}

	snap, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Zones, 2)
	require.Equal(t, "Wroclaw", snap.Zones[0].Name)
	require.Equal(t, pricing.KindWildcard, snap.Zones[1].Locations[0].Kind)
	require.True(t, snap.Zones[0].Methods[0].Cost.Equal(mustDecimal(t, "25")))
	require.Equal(t, "Everywhere else", snap.Default.Name)
	require.Len(t, snap.Default.Methods, 1)
	require.False(t, snap.FetchedAt.IsZero())
}

func TestStoreLoadErrors(t *testing.T) {
	_, err := zones.Store{}.Load(context.Background())
	require.Error(t, err)

	boom := errors.New("connection refused")
	_, err = zones.Store{Q: fakeQuerier{err: boom}}.Load(context.Background())
	require.ErrorIs(t, err, boom)

	_, err = zones.Store{Q: fakeQuerier{
		zones:   [][]any{{3, "Wroclaw"}},
		methods: [][]any{{3, "flat_rate:7", "Courier", true, "abc", ""}},
	}}.Load(context.Background())
	require.Error(t, err)
}
