package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/quantcites/citespider/internal/chain"
)

func newMockStore(t *testing.T) (*Postgres, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	s, err := NewPostgresWithPool(mock)
	require.NoError(t, err)
	return s, mock
}

func TestArticleByHandleFound(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT a.id, a.handle").
		WithArgs("RePEc:ecm:emetrp:1").
		WillReturnRows(pgxmock.NewRows(
			[]string{"id", "handle", "title", "pub_year", "name", "abstract", "url"}).
			AddRow(int64(7), "RePEc:ecm:emetrp:1", "A Title", 1985, "journal of finance", "An abstract", "https://example.org"))

	a, err := s.ArticleByHandle(context.Background(), "RePEc:ecm:emetrp:1")
	require.NoError(t, err)
	require.NotNil(t, a)
	require.Equal(t, int64(7), a.ID)
	require.Equal(t, "journal of finance", a.Venue)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArticleByHandleAbsentIsNilNotError(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT a.id, a.handle").
		WithArgs("RePEc:missing").
		WillReturnError(pgx.ErrNoRows)

	a, err := s.ArticleByHandle(context.Background(), "RePEc:missing")
	require.NoError(t, err)
	require.Nil(t, a)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateArticleRunsOneTransaction(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	rec := ArticleRecord{
		Handle:   "RePEc:bla:jfinan:2",
		Title:    "Term Structure",
		Year:     1986,
		Venue:    "journal of finance",
		Authors:  []string{"ho, thomas", "lee, sang-bin"},
		Abstract: "Rates.",
		URL:      "https://example.org/p2",
		Keywords: []string{"term structure"},
	}

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO venues").
		WithArgs(rec.Venue).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(3)))
	mock.ExpectQuery("INSERT INTO articles").
		WithArgs(rec.Handle, rec.Title, rec.Year, &[]int64{3}[0], rec.Abstract, rec.URL).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectQuery("INSERT INTO authors").
		WithArgs("ho, thomas").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(21)))
	mock.ExpectExec("INSERT INTO author_article").
		WithArgs(int64(21), int64(11)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("INSERT INTO authors").
		WithArgs("lee, sang-bin").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(22)))
	mock.ExpectExec("INSERT INTO author_article").
		WithArgs(int64(22), int64(11)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("INSERT INTO keywords").
		WithArgs("term structure").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(31)))
	mock.ExpectExec("INSERT INTO keyword_article").
		WithArgs(int64(31), int64(11)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	a, err := s.CreateArticle(context.Background(), rec)
	require.NoError(t, err)
	require.Equal(t, int64(11), a.ID)
	require.Equal(t, rec.Handle, a.Handle)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateArticleRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO articles").
		WithArgs("RePEc:x", "", 0, (*int64)(nil), "", "").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := s.CreateArticle(context.Background(), ArticleRecord{Handle: "RePEc:x"})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestArticleIDZeroWhenEmpty(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT COALESCE").
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(int64(0)))

	id, err := s.LatestArticleID(context.Background())
	require.NoError(t, err)
	require.Zero(t, id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordChainEncodesLtree(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO citations").
		WithArgs(int64(12), "1.10.12").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.RecordChain(context.Background(), 12, chain.Chain{1, 10, 12})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChainCount(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(4)))

	n, err := s.ChainCount(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(4), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChainsDescendingFrom(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT citation_chain").
		WithArgs("1").
		WillReturnRows(pgxmock.NewRows([]string{"citation_chain"}).
			AddRow("1").
			AddRow("1.7").
			AddRow("1.7.42"))

	chains, err := s.ChainsDescendingFrom(context.Background(), chain.Chain{1})
	require.NoError(t, err)
	require.Len(t, chains, 3)
	require.True(t, chains[2].Equal(chain.Chain{1, 7, 42}))
	require.NoError(t, mock.ExpectationsWereMet())
}
