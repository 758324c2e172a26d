package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	echoSwagger "github.com/swaggo/echo-swagger"
	"go.uber.org/zap"

	"github.com/avdeyev/bookstore-service/pkg/auth"
	md "github.com/avdeyev/bookstore-service/pkg/middleware"
	"github.com/avdeyev/bookstore-service/pkg/validate"
	"github.com/avdeyev/bookstore-service/store/internal/errs"
	"github.com/avdeyev/bookstore-service/store/internal/model"
	_ "github.com/avdeyev/bookstore-service/swagger"
)

type Handler struct {
	storeSvc  StoreService
	jwtSecret []byte
	log       *zap.Logger
}

func New(storeSvc StoreService, jwtSecret []byte, log *zap.Logger) *Handler {
	h := &Handler{
		storeSvc:  storeSvc,
		jwtSecret: jwtSecret,
		log:       log,
	}
	return h
}

func (h *Handler) NewRouter() *echo.Echo {
	e := echo.New()
	const (
		baseRPS = 10
		apiRPS  = 100
	)
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 4 << 10, // 4 KB
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodOptions, http.MethodHead, http.MethodPut, http.MethodPatch, http.MethodPost, http.MethodDelete},
		AllowCredentials: true,
	}))
	e.HTTPErrorHandler = errs.NewHTTPErrorHandler(h.log)

	base := e.Group("", md.NewRateLimiter(baseRPS))
	base.GET("/manage/health", h.Health)
	base.GET("/swagger/*", echoSwagger.WrapHandler)

	e.Validator = validate.NewCustomValidator()
	api := e.Group("/api/v1",
		middleware.RequestLoggerWithConfig(md.RequestLoggerConfig()),
		middleware.RequestID(),
		md.NewRateLimiter(apiRPS),
	)

	api.GET("/books", h.GetBooks)
	api.GET("/books/:id", h.GetBook)

	authed := api.Group("", md.JWTAuth(h.jwtSecret))
	authed.POST("/books", h.CreateBook)
	authed.PUT("/books/:id", h.UpdateBook)
	authed.DELETE("/books/:id", h.DeleteBook)
	authed.PATCH("/relations/:bookId", h.PatchRelation)

	return e
}

func (h *Handler) Health(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (h *Handler) GetBooks(c echo.Context) error {
	ctx := c.Request().Context()

	var (
		err    error
		filter model.BooksFilter
	)
	if priceParam := c.QueryParam("price"); priceParam != "" {
		price, err := decimal.NewFromString(priceParam)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, errors.New("price is invalid"))
		}
		filter.Price = &price
	}
	filter.Search = c.QueryParam("search")
	if ordering := c.QueryParam("ordering"); ordering != "" {
		switch ordering {
		case model.OrderingPrice, model.OrderingPriceDesc,
			model.OrderingAuthorName, model.OrderingAuthorNameDesc:
			filter.Ordering = ordering
		default:
			return echo.NewHTTPError(http.StatusBadRequest, errors.New("ordering is invalid"))
		}
	}
	if pageParam := c.QueryParam("page"); pageParam != "" {
		if filter.Page, err = strconv.Atoi(pageParam); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, errors.New("page is invalid"))
		}
	}
	if sizeParam := c.QueryParam("size"); sizeParam != "" {
		if filter.Size, err = strconv.Atoi(sizeParam); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, errors.New("size is invalid"))
		}
	}

	books, err := h.storeSvc.ListBooks(ctx, filter)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, books)
}

func (h *Handler) GetBook(c echo.Context) error {
	id, err := bookID(c, "id")
	if err != nil {
		return err
	}
	book, err := h.storeSvc.GetBook(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, book)
}

func (h *Handler) CreateBook(c echo.Context) error {
	ctx := c.Request().Context()
	actor, err := auth.GetProfile(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}

	var req model.CreateBookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Price.IsNegative() {
		return echo.NewHTTPError(http.StatusBadRequest, errors.New("price is invalid"))
	}

	book, err := h.storeSvc.CreateBook(ctx, actor, req)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, book)
}

func (h *Handler) UpdateBook(c echo.Context) error {
	ctx := c.Request().Context()
	actor, err := auth.GetProfile(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	id, err := bookID(c, "id")
	if err != nil {
		return err
	}

	var req model.UpdateBookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Price.IsNegative() {
		return echo.NewHTTPError(http.StatusBadRequest, errors.New("price is invalid"))
	}

	book, err := h.storeSvc.UpdateBook(ctx, actor, id, req)
	if err != nil {
		return bookWriteError(err)
	}
	return c.JSON(http.StatusOK, book)
}

func (h *Handler) DeleteBook(c echo.Context) error {
	ctx := c.Request().Context()
	actor, err := auth.GetProfile(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	id, err := bookID(c, "id")
	if err != nil {
		return err
	}

	if err := h.storeSvc.DeleteBook(ctx, actor, id); err != nil {
		return bookWriteError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) PatchRelation(c echo.Context) error {
	ctx := c.Request().Context()
	actor, err := auth.GetProfile(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	id, err := bookID(c, "bookId")
	if err != nil {
		return err
	}

	var patch model.RelationPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if rate := patch.Rate.Value; patch.Rate.Present && rate != nil &&
		(*rate < model.RateMin || *rate > model.RateMax) {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf(
			"rate must be between %d (%s) and %d (%s)",
			model.RateMin, model.RateLabels[model.RateMin],
			model.RateMax, model.RateLabels[model.RateMax]))
	}

	rel, err := h.storeSvc.PatchRelation(ctx, actor, id, patch)
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		case errors.Is(err, errs.ErrConflict):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rel)
}

func bookID(c echo.Context, param string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, errors.Errorf("%s is invalid", param))
	}
	return id, nil
}

func bookWriteError(err error) error {
	switch {
	case errors.Is(err, errs.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, errs.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
