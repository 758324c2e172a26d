package service_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avdeyev/bookstore-service/pkg/auth"
	"github.com/avdeyev/bookstore-service/store/internal/model"
	"github.com/avdeyev/bookstore-service/store/internal/service"
)

func TestCanModifyBook(t *testing.T) {
	t.Parallel()
	ownerID := int64(7)

	tests := []struct {
		name  string
		actor auth.Profile
		book  model.Book
		want  bool
	}{
		{name: "owner", actor: auth.Profile{UserID: 7}, book: model.Book{OwnerID: &ownerID}, want: true},
		{name: "staff stranger", actor: auth.Profile{UserID: 2, IsStaff: true}, book: model.Book{OwnerID: &ownerID}, want: true},
		{name: "stranger", actor: auth.Profile{UserID: 2}, book: model.Book{OwnerID: &ownerID}, want: false},
		{name: "ownerless book", actor: auth.Profile{UserID: 7}, book: model.Book{}, want: false},
		{name: "ownerless book staff", actor: auth.Profile{UserID: 7, IsStaff: true}, book: model.Book{}, want: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, service.CanModifyBook(tt.actor, tt.book))
		})
	}
}
