// Package server exposes the quote and settle operations over HTTP. Input
// shape validation happens here, before the core engines are invoked.
package server

import (
	"context"
	"net/http"
	"time"

	commonerrors "github.com/ClipFinance/rebalancer/common/errors"
	"github.com/ClipFinance/rebalancer/common/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Quoter produces quotes for transfer requests.
type Quoter interface {
	Quote(ctx context.Context, req *types.TransferRequest) (*types.QuoteResult, error)
}

// Settler submits the settlement transaction for a stored quote.
type Settler interface {
	Settle(ctx context.Context, record *types.QuoteRecord) (common.Hash, error)
}

// QuoteStore persists quote records between the quote and settle calls. A
// record is removed once its settlement transaction is broadcast, so a repeat
// settle for the same request ID surfaces ErrStaleQuote.
type QuoteStore interface {
	Put(ctx context.Context, record *types.QuoteRecord) error
	Get(ctx context.Context, requestID string) (*types.QuoteRecord, error)
	Delete(ctx context.Context, requestID string) error
}

// Server wires the HTTP routes to the core engines.
type Server struct {
	echo     *echo.Echo
	logger   *logrus.Logger
	validate *validator.Validate
	quoter   Quoter
	settler  Settler
	store    QuoteStore
}

// New creates the HTTP server and registers its routes.
func New(logger *logrus.Logger, quoter Quoter, settler Settler, store QuoteStore) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:     e,
		logger:   logger,
		validate: validator.New(),
		quoter:   quoter,
		settler:  settler,
		store:    store,
	}

	e.POST("/v1/quote", s.handleQuote)
	e.POST("/v1/settle", s.handleSettle)

	return s
}

// Start begins serving on the given address and blocks until shutdown.
func (s *Server) Start(addr string) error {
	s.logger.WithField("addr", addr).Info("HTTP server listening")
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

type settleRequest struct {
	RequestID string `json:"requestId" validate:"required"`
}

type settleResponse struct {
	TransactionHash string `json:"transactionHash"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleQuote(c echo.Context) error {
	ctx := c.Request().Context()

	var req types.TransferRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed request body"})
	}
	if err := s.validate.Struct(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}

	result, err := s.quoter.Quote(ctx, &req)
	if err != nil {
		s.logger.WithField("requestId", req.RequestID).WithError(err).Warn("Quote failed")
		return s.errorJSON(c, err)
	}

	record := &types.QuoteRecord{
		Request:  req,
		Result:   *result,
		QuotedAt: time.Now().UTC(),
	}
	if err := s.store.Put(ctx, record); err != nil {
		s.logger.WithField("requestId", req.RequestID).WithError(err).Error("Failed to persist quote record")
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to persist quote"})
	}

	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleSettle(c echo.Context) error {
	ctx := c.Request().Context()

	var req settleRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed request body"})
	}
	if err := s.validate.Struct(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}

	record, err := s.store.Get(ctx, req.RequestID)
	if err != nil {
		s.logger.WithField("requestId", req.RequestID).WithError(err).Warn("Quote lookup failed")
		return s.errorJSON(c, err)
	}

	hash, err := s.settler.Settle(ctx, record)
	if err != nil {
		s.logger.WithField("requestId", req.RequestID).WithError(err).Error("Settlement failed")
		return s.errorJSON(c, err)
	}

	// The transaction is already broadcast at this point; a failed delete must
	// not fail the response, it only risks a duplicate settle attempt.
	if err := s.store.Delete(ctx, req.RequestID); err != nil {
		s.logger.WithField("requestId", req.RequestID).WithError(err).Error("Failed to remove settled quote record")
	}

	return c.JSON(http.StatusOK, settleResponse{TransactionHash: hash.Hex()})
}

// errorJSON maps core errors to HTTP statuses: unknown request IDs are 404,
// caller mistakes are 400, upstream chain or price failures are 502.
func (s *Server) errorJSON(c echo.Context, err error) error {
	var rpcErr *commonerrors.RPCError

	switch {
	case errors.Is(err, commonerrors.ErrStaleQuote):
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, commonerrors.ErrInvalidAmount),
		errors.Is(err, commonerrors.ErrUnknownTokenMapping),
		errors.Is(err, commonerrors.ErrChainNotConfigured):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, commonerrors.ErrPriceUnavailable), errors.As(err, &rpcErr):
		return c.JSON(http.StatusBadGateway, errorResponse{Error: err.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}
