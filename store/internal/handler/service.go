package handler

import (
	"context"

	"github.com/avdeyev/bookstore-service/pkg/auth"
	"github.com/avdeyev/bookstore-service/store/internal/model"
	"github.com/avdeyev/bookstore-service/store/internal/service"
)

//go:generate go run github.com/golang/mock/mockgen -source=service.go -destination=mocks/mock.go

type StoreService interface {
	ListBooks(ctx context.Context, filter model.BooksFilter) (model.ListBooks, error)
	GetBook(ctx context.Context, id int64) (model.BookView, error)
	CreateBook(ctx context.Context, actor auth.Profile, req model.CreateBookRequest) (model.BookView, error)
	UpdateBook(ctx context.Context, actor auth.Profile, id int64, req model.UpdateBookRequest) (model.BookView, error)
	DeleteBook(ctx context.Context, actor auth.Profile, id int64) error
	PatchRelation(ctx context.Context, actor auth.Profile, bookID int64, patch model.RelationPatch) (model.UserBookRelation, error)
}

var _ StoreService = (*service.Service)(nil)
