package repository

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/avdeyev/bookstore-service/store/internal/errs"
	"github.com/avdeyev/bookstore-service/store/internal/model"
)

type Repository interface {
	ListBooks(ctx context.Context, filter model.BooksFilter) (model.ListBooks, error)
	GetBook(ctx context.Context, id int64) (model.BookView, error)
	CreateBook(ctx context.Context, book model.Book) (model.Book, error)
	UpdateBook(ctx context.Context, book model.Book) (model.Book, error)
	DeleteBook(ctx context.Context, id int64) error
	UpsertUser(ctx context.Context, user model.User) error
	WithRelationTx(ctx context.Context, fn func(tx RelationTx) error) error
}

// RelationTx is the slice of the store visible inside one relation-write
// transaction: the relation row itself plus the narrow rating store the
// aggregator runs against.
type RelationTx interface {
	GetRelationForUpdate(ctx context.Context, userID, bookID int64) (model.UserBookRelation, bool, error)
	InsertRelation(ctx context.Context, rel model.UserBookRelation) (model.UserBookRelation, error)
	UpdateRelation(ctx context.Context, rel model.UserBookRelation) (model.UserBookRelation, error)
	BookRates(ctx context.Context, bookID int64) ([]int, error)
	SaveBookRating(ctx context.Context, bookID int64, rating decimal.NullDecimal) error
}

type repository struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewRepository(db *sqlx.DB, log *zap.Logger) (*repository, error) {
	return &repository{
		db:  db,
		log: log.Named("repo"),
	}, nil
}

const (
	usersTableName     = `users`
	booksTableName     = `books`
	relationsTableName = `user_book_relations`
)

var qb = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var bookColumns = []string{"id", "name", "price", "discount", "author_name", "owner_id", "rating"}

// orderings is the whitelist of client-facing sort keys.
var orderings = map[string]string{
	model.OrderingPrice:          "b.price asc",
	model.OrderingPriceDesc:      "b.price desc",
	model.OrderingAuthorName:     "b.author_name asc",
	model.OrderingAuthorNameDesc: "b.author_name desc",
}

func bookViewQuery() sq.SelectBuilder {
	return qb.Select(
		"b.id", "b.name", "b.price", "b.discount", "b.author_name", "b.owner_id", "b.rating",
		`coalesce(u.username, '') as owner_name`,
		`count(r.id) filter (where r."like") as annotated_likes`).
		From(booksTableName + " b").
		LeftJoin(usersTableName + " u on u.id = b.owner_id").
		LeftJoin(relationsTableName + " r on r.book_id = b.id").
		GroupBy("b.id", "u.username")
}

func (r *repository) ListBooks(ctx context.Context, filter model.BooksFilter) (model.ListBooks, error) {
	q := bookViewQuery()
	if filter.Price != nil {
		q = q.Where(sq.Eq{"b.price": *filter.Price})
	}
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		q = q.Where(sq.Or{
			sq.ILike{"b.name": pattern},
			sq.ILike{"b.author_name": pattern},
		})
	}
	if order, ok := orderings[filter.Ordering]; ok {
		q = q.OrderBy(order, "b.id asc")
	} else {
		q = q.OrderBy("b.id asc")
	}
	if filter.Page != 0 && filter.Size != 0 {
		q = q.Limit(uint64(filter.Size)).Offset(uint64((filter.Page - 1) * filter.Size))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return model.ListBooks{}, err
	}
	r.log.Debug("ListBooks", zap.String("query", query), zap.Any("args", args))

	var books []model.BookView
	if err := r.db.SelectContext(ctx, &books, query, args...); err != nil {
		return model.ListBooks{}, err
	}
	if err := r.attachReaders(ctx, books); err != nil {
		return model.ListBooks{}, err
	}

	return model.ListBooks{
		Paging: model.Paging{
			Page:          filter.Page,
			PageSize:      filter.Size,
			TotalElements: len(books),
		},
		Items: books,
	}, nil
}

// attachReaders prefetches first/last names of relation holders for every
// listed book in one query.
func (r *repository) attachReaders(ctx context.Context, books []model.BookView) error {
	for i := range books {
		books[i].Readers = []model.Reader{}
	}
	if len(books) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(books))
	for i := range books {
		ids = append(ids, books[i].ID)
	}

	query, args, err := sqlx.In(`
	select r.book_id, u.first_name, u.last_name
	from `+relationsTableName+` r
	join `+usersTableName+` u on u.id = r.user_id
	where r.book_id in (?)
	order by r.book_id, r.id`, ids)
	if err != nil {
		return err
	}
	query = r.db.Rebind(query)

	var rows []struct {
		BookID int64 `db:"book_id"`
		model.Reader
	}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return err
	}

	byBook := make(map[int64][]model.Reader, len(books))
	for _, row := range rows {
		byBook[row.BookID] = append(byBook[row.BookID], row.Reader)
	}
	for i := range books {
		if readers, ok := byBook[books[i].ID]; ok {
			books[i].Readers = readers
		}
	}
	return nil
}

func (r *repository) GetBook(ctx context.Context, id int64) (model.BookView, error) {
	query, args, err := bookViewQuery().
		Where(sq.Eq{"b.id": id}).
		ToSql()
	if err != nil {
		return model.BookView{}, err
	}

	var (
		book    model.BookView
		readers []model.Reader
	)
	gg, gctx := errgroup.WithContext(ctx)
	gg.Go(func() error {
		if err := r.db.GetContext(gctx, &book, query, args...); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errs.ErrNotFound
			}
			return err
		}
		return nil
	})
	gg.Go(func() error {
		q := `
	select u.first_name, u.last_name
	from ` + relationsTableName + ` r
	join ` + usersTableName + ` u on u.id = r.user_id
	where r.book_id = $1
	order by r.id`
		return r.db.SelectContext(gctx, &readers, q, id)
	})
	if err := gg.Wait(); err != nil {
		return model.BookView{}, err
	}

	book.Readers = []model.Reader{}
	if len(readers) > 0 {
		book.Readers = readers
	}
	return book, nil
}

func (r *repository) CreateBook(ctx context.Context, book model.Book) (model.Book, error) {
	query, args, err := qb.Insert(booksTableName).
		Columns("name", "price", "discount", "author_name", "owner_id").
		Values(book.Name, book.Price, book.Discount, book.AuthorName, book.OwnerID).
		Suffix("returning " + columnList(bookColumns)).
		ToSql()
	if err != nil {
		return model.Book{}, err
	}

	var created model.Book
	if err := r.db.GetContext(ctx, &created, query, args...); err != nil {
		r.log.Error("CreateBook", zap.String("q", query), zap.Any("args", args))
		return model.Book{}, wrapPgErr(err)
	}
	return created, nil
}

func (r *repository) UpdateBook(ctx context.Context, book model.Book) (model.Book, error) {
	query, args, err := qb.Update(booksTableName).
		Set("name", book.Name).
		Set("price", book.Price).
		Set("discount", book.Discount).
		Set("author_name", book.AuthorName).
		Where(sq.Eq{"id": book.ID}).
		Suffix("returning " + columnList(bookColumns)).
		ToSql()
	if err != nil {
		return model.Book{}, err
	}

	var updated model.Book
	if err := r.db.GetContext(ctx, &updated, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Book{}, errs.ErrNotFound
		}
		return model.Book{}, err
	}
	return updated, nil
}

func (r *repository) DeleteBook(ctx context.Context, id int64) error {
	query, args, err := qb.Delete(booksTableName).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// UpsertUser refreshes the local replica of an externally managed identity.
func (r *repository) UpsertUser(ctx context.Context, user model.User) error {
	query, args, err := qb.Insert(usersTableName).
		Columns("id", "username", "first_name", "last_name", "is_staff").
		Values(user.ID, user.Username, user.FirstName, user.LastName, user.IsStaff).
		Suffix(`on conflict (id) do update set
	username = excluded.username,
	first_name = excluded.first_name,
	last_name = excluded.last_name,
	is_staff = excluded.is_staff`).
		ToSql()
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

// WithRelationTx runs fn inside one transaction; the relation write and the
// rating recompute commit or abort together.
func (r *repository) WithRelationTx(ctx context.Context, fn func(tx RelationTx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck
	if err := fn(&relationTx{tx: tx, log: r.log}); err != nil {
		return err
	}
	return tx.Commit()
}

type relationTx struct {
	tx  *sqlx.Tx
	log *zap.Logger
}

const relationColumns = `id, user_id, book_id, "like", in_bookmarks, rate`

// GetRelationForUpdate locks the (user, book) row so the old rate read here
// stays the row's value until this transaction commits.
func (t *relationTx) GetRelationForUpdate(ctx context.Context, userID, bookID int64) (model.UserBookRelation, bool, error) {
	q := `
	select ` + relationColumns + `
	from ` + relationsTableName + `
	where user_id = $1 and book_id = $2
	for update`

	var rel model.UserBookRelation
	if err := t.tx.GetContext(ctx, &rel, q, userID, bookID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.UserBookRelation{}, false, nil
		}
		return model.UserBookRelation{}, false, err
	}
	return rel, true, nil
}

func (t *relationTx) InsertRelation(ctx context.Context, rel model.UserBookRelation) (model.UserBookRelation, error) {
	query, args, err := qb.Insert(relationsTableName).
		Columns("user_id", "book_id", `"like"`, "in_bookmarks", "rate").
		Values(rel.UserID, rel.BookID, rel.Like, rel.InBookmarks, rel.Rate).
		Suffix("returning " + relationColumns).
		ToSql()
	if err != nil {
		return model.UserBookRelation{}, err
	}

	var created model.UserBookRelation
	if err := t.tx.GetContext(ctx, &created, query, args...); err != nil {
		// unknown book trips the FK, a racing first write trips unique(user_id, book_id)
		return model.UserBookRelation{}, wrapPgErr(err)
	}
	return created, nil
}

func (t *relationTx) UpdateRelation(ctx context.Context, rel model.UserBookRelation) (model.UserBookRelation, error) {
	query, args, err := qb.Update(relationsTableName).
		Set(`"like"`, rel.Like).
		Set("in_bookmarks", rel.InBookmarks).
		Set("rate", rel.Rate).
		Where(sq.Eq{"id": rel.ID}).
		Suffix("returning " + relationColumns).
		ToSql()
	if err != nil {
		return model.UserBookRelation{}, err
	}

	var updated model.UserBookRelation
	if err := t.tx.GetContext(ctx, &updated, query, args...); err != nil {
		return model.UserBookRelation{}, wrapPgErr(err)
	}
	return updated, nil
}

func (t *relationTx) BookRates(ctx context.Context, bookID int64) ([]int, error) {
	q := `
	select rate from ` + relationsTableName + `
	where book_id = $1 and rate is not null`

	var rates []int
	if err := t.tx.SelectContext(ctx, &rates, q, bookID); err != nil {
		return nil, err
	}
	return rates, nil
}

func (t *relationTx) SaveBookRating(ctx context.Context, bookID int64, rating decimal.NullDecimal) error {
	q := `update ` + booksTableName + ` set rating = $2 where id = $1`
	res, err := t.tx.ExecContext(ctx, q, bookID, rating)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func columnList(cols []string) string {
	list := cols[0]
	for _, c := range cols[1:] {
		list += ", " + c
	}
	return list
}

func wrapPgErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			return errs.ErrConflict
		case pgerrcode.ForeignKeyViolation:
			return errs.ErrNotFound
		}
	}
	return err
}
