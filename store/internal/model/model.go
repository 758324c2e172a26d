package model

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type User struct {
	ID        int64  `json:"id" db:"id"`
	Username  string `json:"username" db:"username"`
	FirstName string `json:"first_name" db:"first_name"`
	LastName  string `json:"last_name" db:"last_name"`
	IsStaff   bool   `json:"-" db:"is_staff"`
}

// Reader is a relation holder reduced to display names.
type Reader struct {
	FirstName string `json:"first_name" db:"first_name"`
	LastName  string `json:"last_name" db:"last_name"`
}

type Book struct {
	ID         int64               `json:"id" db:"id"`
	Name       string              `json:"name" db:"name"`
	Price      decimal.Decimal     `json:"price" db:"price"`
	Discount   int                 `json:"discount" db:"discount"`
	AuthorName string              `json:"author_name" db:"author_name"`
	OwnerID    *int64              `json:"-" db:"owner_id"`
	Rating     decimal.NullDecimal `json:"rating" db:"rating"`
}

// PriceWithDiscount is derived, never stored: price - price*discount/100,
// fixed at 2 fraction digits.
func (b Book) PriceWithDiscount() decimal.Decimal {
	discount := b.Price.Mul(decimal.NewFromInt(int64(b.Discount))).Div(decimal.NewFromInt(100))
	return b.Price.Sub(discount).Round(2)
}

// BookView is the read model of a book: the stored row plus the
// relation-derived fields.
type BookView struct {
	Book
	PriceWithDiscount decimal.Decimal `json:"price_with_discount" db:"-"`
	OwnerName         string          `json:"owner_name" db:"owner_name"`
	AnnotatedLikes    int             `json:"annotated_likes" db:"annotated_likes"`
	Readers           []Reader        `json:"readers" db:"-"`
}

type ListBooks struct {
	Paging
	Items []BookView `json:"items"`
}

type Paging struct {
	Page          int `json:"page"`
	PageSize      int `json:"pageSize"`
	TotalElements int `json:"totalElements"`
}

const (
	OrderingPrice          = "price"
	OrderingPriceDesc      = "-price"
	OrderingAuthorName     = "author_name"
	OrderingAuthorNameDesc = "-author_name"
)

type BooksFilter struct {
	Price    *decimal.Decimal
	Search   string
	Ordering string
	Page     int
	Size     int
}

type CreateBookRequest struct {
	Name       string          `json:"name" validate:"required,max=255"`
	Price      decimal.Decimal `json:"price" validate:"required"`
	AuthorName string          `json:"author_name" validate:"required,max=255"`
	Discount   int             `json:"discount" validate:"gte=0,lte=100"`
}

// UpdateBookRequest is a full update: every stored attribute but the
// owner and the cached rating.
type UpdateBookRequest = CreateBookRequest

const (
	RateMin = 1
	RateMax = 5
)

// RateLabels mirrors the catalog's rate scale.
var RateLabels = map[int]string{
	1: "Ok",
	2: "Fine",
	3: "Good",
	4: "Amazing",
	5: "Incredible",
}

type UserBookRelation struct {
	ID          int64 `json:"-" db:"id"`
	UserID      int64 `json:"-" db:"user_id"`
	BookID      int64 `json:"book" db:"book_id"`
	Like        bool  `json:"like" db:"like"`
	InBookmarks bool  `json:"in_bookmarks" db:"in_bookmarks"`
	Rate        *int  `json:"rate" db:"rate"`
}

// OptInt distinguishes an absent JSON field from an explicit null, so a
// PATCH can clear a rate without touching it on every request.
type OptInt struct {
	Present bool
	Value   *int
}

func (o *OptInt) UnmarshalJSON(data []byte) error {
	o.Present = true
	if string(data) == "null" {
		o.Value = nil
		return nil
	}
	var v int
	if err := json.Unmarshal(data, &v); err != nil {
		return errors.Wrap(err, "rate")
	}
	o.Value = &v
	return nil
}

type RelationPatch struct {
	Like        *bool  `json:"like"`
	InBookmarks *bool  `json:"in_bookmarks"`
	Rate        OptInt `json:"rate"`
}

type BookEvent struct {
	EventID string `json:"eventId"`
	Type    string `json:"type"`
	BookID  int64  `json:"bookId"`
}

const (
	BookEventCreated = "created"
	BookEventDeleted = "deleted"
)

type RatingEvent struct {
	EventID string              `json:"eventId"`
	BookID  int64               `json:"bookId"`
	Rating  decimal.NullDecimal `json:"rating"`
}
