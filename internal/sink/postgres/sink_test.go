package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/placescrawler/internal/crawler"
)

func TestNewWithPoolValidation(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(nil, "")
	require.Error(t, err)

	_, err = NewWithPool(mock, "records; DROP TABLE x")
	require.ErrorContains(t, err, "invalid table name")

	s, err := NewWithPool(mock, "")
	require.NoError(t, err)
	require.Equal(t, "crawl_records", s.table)
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewWithPool(mock, "records")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS records").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, s.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendUpsertsByRecordID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewWithPool(mock, "records")
	require.NoError(t, err)
	now := time.Unix(1700000000, 0).UTC()
	s.clock = func() time.Time { return now }

	mock.ExpectExec("INSERT INTO records").
		WithArgs("places", "p1", pgxmock.AnyArg(), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO records").
		WithArgs("reviews", "r1", pgxmock.AnyArg(), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ctx := context.Background()
	require.NoError(t, s.Append(ctx, crawler.CollectionPlaces, crawler.Place{ID: "p1", Title: "Cafe"}))
	require.NoError(t, s.Append(ctx, crawler.CollectionReviews, &crawler.Review{ID: "r1"}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendFallsBackToDigestAndWrapsErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewWithPool(mock, "records")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO records").
		WithArgs("misc", pgxmock.AnyArg(), []byte(`{"k":"v"}`), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	err = s.Append(context.Background(), "misc", map[string]string{"k": "v"})
	require.ErrorContains(t, err, "insert misc record")
	require.NoError(t, mock.ExpectationsWereMet())
}
