package service

import (
	"github.com/avdeyev/bookstore-service/pkg/auth"
	"github.com/avdeyev/bookstore-service/store/internal/model"
)

// CanModifyBook reports whether the actor may mutate the book: staff always,
// otherwise only its owner. Reads are open to everyone at the routing level,
// so this predicate only ever guards writes.
func CanModifyBook(actor auth.Profile, book model.Book) bool {
	if actor.IsStaff {
		return true
	}
	return book.OwnerID != nil && *book.OwnerID == actor.UserID
}
