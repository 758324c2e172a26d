package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/avdeyev/bookstore-service/pkg/auth"
	"github.com/avdeyev/bookstore-service/pkg/kafka"
	"github.com/avdeyev/bookstore-service/store/internal/errs"
	"github.com/avdeyev/bookstore-service/store/internal/model"
	"github.com/avdeyev/bookstore-service/store/internal/repository"
)

type Service struct {
	log      *zap.Logger
	repo     repository.Repository
	enqueuer Enqueuer
}

func NewService(repo repository.Repository, enqueuer Enqueuer, log *zap.Logger) *Service {
	return &Service{
		log:      log,
		repo:     repo,
		enqueuer: enqueuer,
	}
}

func (s *Service) ListBooks(ctx context.Context, filter model.BooksFilter) (model.ListBooks, error) {
	list, err := s.repo.ListBooks(ctx, filter)
	if err != nil {
		return model.ListBooks{}, err
	}
	for i := range list.Items {
		list.Items[i].PriceWithDiscount = list.Items[i].Book.PriceWithDiscount()
	}
	return list, nil
}

func (s *Service) GetBook(ctx context.Context, id int64) (model.BookView, error) {
	view, err := s.repo.GetBook(ctx, id)
	if err != nil {
		return model.BookView{}, err
	}
	view.PriceWithDiscount = view.Book.PriceWithDiscount()
	return view, nil
}

func (s *Service) CreateBook(ctx context.Context, actor auth.Profile, req model.CreateBookRequest) (model.BookView, error) {
	if err := s.repo.UpsertUser(ctx, userFromProfile(actor)); err != nil {
		return model.BookView{}, err
	}

	ownerID := actor.UserID
	created, err := s.repo.CreateBook(ctx, model.Book{
		Name:       req.Name,
		Price:      req.Price,
		Discount:   req.Discount,
		AuthorName: req.AuthorName,
		OwnerID:    &ownerID,
	})
	if err != nil {
		return model.BookView{}, err
	}

	s.publish(kafka.BooksTopic, model.BookEvent{
		EventID: uuid.NewString(),
		Type:    model.BookEventCreated,
		BookID:  created.ID,
	})

	return s.GetBook(ctx, created.ID)
}

func (s *Service) UpdateBook(ctx context.Context, actor auth.Profile, id int64, req model.UpdateBookRequest) (model.BookView, error) {
	view, err := s.repo.GetBook(ctx, id)
	if err != nil {
		return model.BookView{}, err
	}
	if !CanModifyBook(actor, view.Book) {
		return model.BookView{}, errs.ErrForbidden
	}

	book := view.Book
	book.Name = req.Name
	book.Price = req.Price
	book.Discount = req.Discount
	book.AuthorName = req.AuthorName
	if _, err := s.repo.UpdateBook(ctx, book); err != nil {
		return model.BookView{}, err
	}

	return s.GetBook(ctx, id)
}

func (s *Service) DeleteBook(ctx context.Context, actor auth.Profile, id int64) error {
	view, err := s.repo.GetBook(ctx, id)
	if err != nil {
		return err
	}
	if !CanModifyBook(actor, view.Book) {
		return errs.ErrForbidden
	}
	if err := s.repo.DeleteBook(ctx, id); err != nil {
		return err
	}

	s.publish(kafka.BooksTopic, model.BookEvent{
		EventID: uuid.NewString(),
		Type:    model.BookEventDeleted,
		BookID:  id,
	})
	return nil
}

// PatchRelation applies a partial update to the caller's relation with the
// book, creating the row on first contact. The relation write and the rating
// recompute share one transaction: all or nothing.
func (s *Service) PatchRelation(ctx context.Context, actor auth.Profile, bookID int64, patch model.RelationPatch) (model.UserBookRelation, error) {
	if err := s.repo.UpsertUser(ctx, userFromProfile(actor)); err != nil {
		return model.UserBookRelation{}, err
	}

	var (
		rel        model.UserBookRelation
		rating     decimal.NullDecimal
		recomputed bool
	)
	err := s.repo.WithRelationTx(ctx, func(tx repository.RelationTx) error {
		cur, found, err := tx.GetRelationForUpdate(ctx, actor.UserID, bookID)
		if err != nil {
			return err
		}
		if !found {
			cur = model.UserBookRelation{UserID: actor.UserID, BookID: bookID}
		}
		// old rate is captured here, before the patch touches the row
		oldRate := cur.Rate

		if patch.Like != nil {
			cur.Like = *patch.Like
		}
		if patch.InBookmarks != nil {
			cur.InBookmarks = *patch.InBookmarks
		}
		if patch.Rate.Present {
			cur.Rate = patch.Rate.Value
		}

		if found {
			rel, err = tx.UpdateRelation(ctx, cur)
		} else {
			rel, err = tx.InsertRelation(ctx, cur)
		}
		if err != nil {
			return err
		}

		// a new row recomputes even when its rate is null, keeping the
		// cached value checkable after every relation write
		if !found || rateChanged(oldRate, rel.Rate) {
			rating, err = RecomputeRating(ctx, tx, bookID)
			if err != nil {
				return err
			}
			recomputed = true
		}
		return nil
	})
	if err != nil {
		return model.UserBookRelation{}, err
	}

	if recomputed {
		s.publish(kafka.RatingsTopic, model.RatingEvent{
			EventID: uuid.NewString(),
			BookID:  bookID,
			Rating:  rating,
		})
	}
	return rel, nil
}

func rateChanged(oldRate, newRate *int) bool {
	if oldRate == nil && newRate == nil {
		return false
	}
	if oldRate == nil || newRate == nil {
		return true
	}
	return *oldRate != *newRate
}

func userFromProfile(p auth.Profile) model.User {
	return model.User{
		ID:        p.UserID,
		Username:  p.Username,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		IsStaff:   p.IsStaff,
	}
}

// events are observability, not part of the invariant: failures are logged,
// never propagated
func (s *Service) publish(topic string, v any) {
	if s.enqueuer == nil {
		return
	}
	if err := s.enqueuer.Enqueue(topic, v); err != nil {
		s.log.Warn("enqueue", zap.String("topic", topic), zap.Error(err))
	}
}
