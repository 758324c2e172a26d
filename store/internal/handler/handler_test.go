package handler_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/avdeyev/bookstore-service/pkg/auth"
	"github.com/avdeyev/bookstore-service/pkg/validate"
	"github.com/avdeyev/bookstore-service/store/internal/errs"
	"github.com/avdeyev/bookstore-service/store/internal/handler"
	"github.com/avdeyev/bookstore-service/store/internal/model"

	service_mocks "github.com/avdeyev/bookstore-service/store/internal/handler/mocks"
)

var testSecret = []byte("test-secret")

func newTestRouter(t *testing.T) (*echo.Echo, *service_mocks.MockStoreService, *handler.Handler) {
	t.Helper()
	c := gomock.NewController(t)
	t.Cleanup(c.Finish)
	svc := service_mocks.NewMockStoreService(c)
	log := zap.NewExample().Named("test")

	e := echo.New()
	e.Validator = validate.NewCustomValidator()
	e.HTTPErrorHandler = errs.NewHTTPErrorHandler(log)
	return e, svc, handler.New(svc, testSecret, log)
}

// withActor stands in for the JWT middleware in handler tests.
func withActor(p auth.Profile) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			c.SetRequest(req.WithContext(auth.SetAuthContext(req.Context(), p)))
			return next(c)
		}
	}
}

var testActor = auth.Profile{UserID: 7, Username: "user1", FirstName: "Fedor", LastName: "Fundukov"}

func actorCtx(p auth.Profile) context.Context {
	return auth.SetAuthContext(context.Background(), p)
}

func intPtr(v int) *int { return &v }

func TestHandler_GetBooks(t *testing.T) {
	t.Parallel()
	type response struct {
		expectedCode int
		expectedBody string
	}
	type mockBehavior func(r *service_mocks.MockStoreService)

	price55 := decimal.RequireFromString("55")
	ownerID := int64(7)

	var tests = []struct {
		name         string
		target       string
		mockBehavior mockBehavior
		response     response
		wantErr      bool
	}{
		{
			name:   "ok",
			target: "/books?price=55&search=Author&ordering=-price",
			mockBehavior: func(r *service_mocks.MockStoreService) {
				r.EXPECT().
					ListBooks(context.Background(), model.BooksFilter{
						Price:    &price55,
						Search:   "Author",
						Ordering: model.OrderingPriceDesc,
					}).
					Return(model.ListBooks{
						Paging: model.Paging{Page: 0, PageSize: 0, TotalElements: 1},
						Items: []model.BookView{
							{
								Book: model.Book{
									ID:         2,
									Name:       "Test book 2",
									Price:      decimal.RequireFromString("55.00"),
									Discount:   20,
									AuthorName: "Author 2",
									OwnerID:    &ownerID,
									Rating:     decimal.NullDecimal{Decimal: decimal.RequireFromString("3.50"), Valid: true},
								},
								PriceWithDiscount: decimal.RequireFromString("44.00"),
								OwnerName:         "user1",
								AnnotatedLikes:    2,
								Readers:           []model.Reader{{FirstName: "Igor", LastName: "Rubakov"}},
							},
						},
					}, nil)
			},
			response: response{
				expectedCode: http.StatusOK,
				expectedBody: `{"page":0,"pageSize":0,"totalElements":1,"items":[{"id":2,"name":"Test book 2","price":"55","discount":20,"author_name":"Author 2","rating":"3.5","price_with_discount":"44","owner_name":"user1","annotated_likes":2,"readers":[{"first_name":"Igor","last_name":"Rubakov"}]}]}`,
			},
		},
		{
			name:         "err. unknown ordering",
			target:       "/books?ordering=name",
			mockBehavior: func(r *service_mocks.MockStoreService) {},
			response: response{
				expectedCode: http.StatusBadRequest,
				expectedBody: `{"detail":"ordering is invalid"}`,
			},
			wantErr: true,
		},
		{
			name:         "err. malformed price",
			target:       "/books?price=cheap",
			mockBehavior: func(r *service_mocks.MockStoreService) {},
			response: response{
				expectedCode: http.StatusBadRequest,
				expectedBody: `{"detail":"price is invalid"}`,
			},
			wantErr: true,
		},
		{
			name:   "err. internal",
			target: "/books",
			mockBehavior: func(r *service_mocks.MockStoreService) {
				r.EXPECT().
					ListBooks(context.Background(), model.BooksFilter{}).
					Return(model.ListBooks{}, errors.New("db internal"))
			},
			response: response{
				expectedCode: http.StatusInternalServerError,
				expectedBody: `{"detail":"db internal"}`,
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e, svc, h := newTestRouter(t)
			e.GET("/books", h.GetBooks)

			r := httptest.NewRequest(http.MethodGet, tt.target, http.NoBody)
			r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			w := httptest.NewRecorder()

			tt.mockBehavior(svc)
			e.ServeHTTP(w, r)

			require.Equal(t, tt.response.expectedCode, w.Code)
			require.JSONEq(t, tt.response.expectedBody, strings.Trim(w.Body.String(), "\n"))
		})
	}
}

func TestHandler_GetBook(t *testing.T) {
	t.Parallel()

	t.Run("ok", func(t *testing.T) {
		t.Parallel()
		e, svc, h := newTestRouter(t)
		e.GET("/books/:id", h.GetBook)

		svc.EXPECT().
			GetBook(context.Background(), int64(1)).
			Return(model.BookView{
				Book: model.Book{
					ID:         1,
					Name:       "Test book 1",
					Price:      decimal.RequireFromString("25.00"),
					Discount:   10,
					AuthorName: "Author 1",
				},
				PriceWithDiscount: decimal.RequireFromString("22.50"),
				Readers:           []model.Reader{},
			}, nil)

		r := httptest.NewRequest(http.MethodGet, "/books/1", http.NoBody)
		w := httptest.NewRecorder()
		e.ServeHTTP(w, r)

		require.Equal(t, http.StatusOK, w.Code)
		require.JSONEq(t,
			`{"id":1,"name":"Test book 1","price":"25","discount":10,"author_name":"Author 1","rating":null,"price_with_discount":"22.5","owner_name":"","annotated_likes":0,"readers":[]}`,
			strings.Trim(w.Body.String(), "\n"))
	})

	t.Run("err. not found", func(t *testing.T) {
		t.Parallel()
		e, svc, h := newTestRouter(t)
		e.GET("/books/:id", h.GetBook)

		svc.EXPECT().
			GetBook(context.Background(), int64(42)).
			Return(model.BookView{}, errs.ErrNotFound)

		r := httptest.NewRequest(http.MethodGet, "/books/42", http.NoBody)
		w := httptest.NewRecorder()
		e.ServeHTTP(w, r)

		require.Equal(t, http.StatusNotFound, w.Code)
		require.JSONEq(t, `{"detail":"not found"}`, strings.Trim(w.Body.String(), "\n"))
	})

	t.Run("err. bad id", func(t *testing.T) {
		t.Parallel()
		e, _, h := newTestRouter(t)
		e.GET("/books/:id", h.GetBook)

		r := httptest.NewRequest(http.MethodGet, "/books/first", http.NoBody)
		w := httptest.NewRecorder()
		e.ServeHTTP(w, r)

		require.Equal(t, http.StatusBadRequest, w.Code)
		require.JSONEq(t, `{"detail":"id is invalid"}`, strings.Trim(w.Body.String(), "\n"))
	})
}

func TestHandler_CreateBook(t *testing.T) {
	t.Parallel()

	t.Run("ok", func(t *testing.T) {
		t.Parallel()
		e, svc, h := newTestRouter(t)
		e.POST("/books", h.CreateBook, withActor(testActor))

		svc.EXPECT().
			CreateBook(actorCtx(testActor), testActor, model.CreateBookRequest{
				Name:       "Test book 1",
				Price:      decimal.RequireFromString("25.00"),
				AuthorName: "Author 1",
			}).
			Return(model.BookView{
				Book: model.Book{
					ID:         1,
					Name:       "Test book 1",
					Price:      decimal.RequireFromString("25.00"),
					AuthorName: "Author 1",
				},
				PriceWithDiscount: decimal.RequireFromString("25.00"),
				OwnerName:         "user1",
				Readers:           []model.Reader{},
			}, nil)

		r := httptest.NewRequest(http.MethodPost, "/books",
			strings.NewReader(`{"name":"Test book 1","price":"25.00","author_name":"Author 1"}`))
		r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		w := httptest.NewRecorder()
		e.ServeHTTP(w, r)

		require.Equal(t, http.StatusCreated, w.Code)
	})

	t.Run("err. missing name", func(t *testing.T) {
		t.Parallel()
		e, _, h := newTestRouter(t)
		e.POST("/books", h.CreateBook, withActor(testActor))

		r := httptest.NewRequest(http.MethodPost, "/books",
			strings.NewReader(`{"price":"25.00","author_name":"Author 1"}`))
		r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		w := httptest.NewRecorder()
		e.ServeHTTP(w, r)

		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("err. no auth context", func(t *testing.T) {
		t.Parallel()
		e, _, h := newTestRouter(t)
		e.POST("/books", h.CreateBook)

		r := httptest.NewRequest(http.MethodPost, "/books",
			strings.NewReader(`{"name":"Test book 1","price":"25.00","author_name":"Author 1"}`))
		r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		w := httptest.NewRecorder()
		e.ServeHTTP(w, r)

		require.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestHandler_UpdateBook(t *testing.T) {
	t.Parallel()

	t.Run("err. forbidden leaves book unmodified", func(t *testing.T) {
		t.Parallel()
		e, svc, h := newTestRouter(t)
		stranger := auth.Profile{UserID: 999, Username: "stranger"}
		e.PUT("/books/:id", h.UpdateBook, withActor(stranger))

		svc.EXPECT().
			UpdateBook(actorCtx(stranger), stranger, int64(1), model.UpdateBookRequest{
				Name:       "Hacked",
				Price:      decimal.RequireFromString("1.00"),
				AuthorName: "Nobody",
			}).
			Return(model.BookView{}, errs.ErrForbidden)

		r := httptest.NewRequest(http.MethodPut, "/books/1",
			strings.NewReader(`{"name":"Hacked","price":"1.00","author_name":"Nobody"}`))
		r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		w := httptest.NewRecorder()
		e.ServeHTTP(w, r)

		require.Equal(t, http.StatusForbidden, w.Code)
		require.JSONEq(t, `{"detail":"permission denied"}`, strings.Trim(w.Body.String(), "\n"))
	})

	t.Run("ok", func(t *testing.T) {
		t.Parallel()
		e, svc, h := newTestRouter(t)
		e.PUT("/books/:id", h.UpdateBook, withActor(testActor))

		svc.EXPECT().
			UpdateBook(actorCtx(testActor), testActor, int64(1), gomock.Any()).
			Return(model.BookView{
				Book:    model.Book{ID: 1, Name: "Test book 1", Price: decimal.RequireFromString("30.00"), AuthorName: "Author 1"},
				Readers: []model.Reader{},
			}, nil)

		r := httptest.NewRequest(http.MethodPut, "/books/1",
			strings.NewReader(`{"name":"Test book 1","price":"30.00","author_name":"Author 1"}`))
		r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		w := httptest.NewRecorder()
		e.ServeHTTP(w, r)

		require.Equal(t, http.StatusOK, w.Code)
	})
}

func TestHandler_DeleteBook(t *testing.T) {
	t.Parallel()

	t.Run("ok", func(t *testing.T) {
		t.Parallel()
		e, svc, h := newTestRouter(t)
		e.DELETE("/books/:id", h.DeleteBook, withActor(testActor))

		svc.EXPECT().
			DeleteBook(actorCtx(testActor), testActor, int64(1)).
			Return(nil)

		r := httptest.NewRequest(http.MethodDelete, "/books/1", http.NoBody)
		w := httptest.NewRecorder()
		e.ServeHTTP(w, r)

		require.Equal(t, http.StatusNoContent, w.Code)
		require.Empty(t, w.Body.String())
	})

	t.Run("err. forbidden", func(t *testing.T) {
		t.Parallel()
		e, svc, h := newTestRouter(t)
		stranger := auth.Profile{UserID: 999, Username: "stranger"}
		e.DELETE("/books/:id", h.DeleteBook, withActor(stranger))

		svc.EXPECT().
			DeleteBook(actorCtx(stranger), stranger, int64(1)).
			Return(errs.ErrForbidden)

		r := httptest.NewRequest(http.MethodDelete, "/books/1", http.NoBody)
		w := httptest.NewRecorder()
		e.ServeHTTP(w, r)

		require.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestHandler_PatchRelation(t *testing.T) {
	t.Parallel()

	t.Run("ok", func(t *testing.T) {
		t.Parallel()
		e, svc, h := newTestRouter(t)
		e.PATCH("/relations/:bookId", h.PatchRelation, withActor(testActor))

		svc.EXPECT().
			PatchRelation(actorCtx(testActor), testActor, int64(3), model.RelationPatch{
				Rate: model.OptInt{Present: true, Value: intPtr(5)},
			}).
			Return(model.UserBookRelation{ID: 1, UserID: 7, BookID: 3, Rate: intPtr(5)}, nil)

		r := httptest.NewRequest(http.MethodPatch, "/relations/3",
			strings.NewReader(`{"rate": 5}`))
		r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		w := httptest.NewRecorder()
		e.ServeHTTP(w, r)

		require.Equal(t, http.StatusOK, w.Code)
		require.JSONEq(t, `{"book":3,"like":false,"in_bookmarks":false,"rate":5}`,
			strings.Trim(w.Body.String(), "\n"))
	})

	t.Run("err. rate out of range", func(t *testing.T) {
		t.Parallel()
		e, _, h := newTestRouter(t)
		e.PATCH("/relations/:bookId", h.PatchRelation, withActor(testActor))

		r := httptest.NewRequest(http.MethodPatch, "/relations/3",
			strings.NewReader(`{"rate": 6}`))
		r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		w := httptest.NewRecorder()
		e.ServeHTTP(w, r)

		require.Equal(t, http.StatusBadRequest, w.Code)
		require.JSONEq(t, `{"detail":"rate must be between 1 (Ok) and 5 (Incredible)"}`,
			strings.Trim(w.Body.String(), "\n"))
	})

	t.Run("err. unknown book", func(t *testing.T) {
		t.Parallel()
		e, svc, h := newTestRouter(t)
		e.PATCH("/relations/:bookId", h.PatchRelation, withActor(testActor))

		svc.EXPECT().
			PatchRelation(actorCtx(testActor), testActor, int64(42), gomock.Any()).
			Return(model.UserBookRelation{}, errs.ErrNotFound)

		r := httptest.NewRequest(http.MethodPatch, "/relations/42",
			strings.NewReader(`{"like": true}`))
		r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		w := httptest.NewRecorder()
		e.ServeHTTP(w, r)

		require.Equal(t, http.StatusNotFound, w.Code)
	})
}
