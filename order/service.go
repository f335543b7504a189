package order

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/nimbushost/nimbus/auth"
	"github.com/nimbushost/nimbus/payment"
	"github.com/nimbushost/nimbus/pricing"
	resp "github.com/nimbushost/nimbus/response"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ServiceOptions contains the configuration for Service router
type ServiceOptions struct {
	OrderManager *Manager
	Transitioner *Transitioner
	Catalog      *pricing.Catalog
	Gateway      payment.Gateway
	Logger       *zap.Logger
}

// Service is the order API router
type Service struct {
	ServiceOptions
	validate *validator.Validate
}

// NewService will create an instance of the order API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.OrderManager == nil {
		return nil, fmt.Errorf("nil OrderManager is invalid")
	}
	if option.Transitioner == nil {
		return nil, fmt.Errorf("nil Transitioner is invalid")
	}
	if option.Catalog == nil {
		return nil, fmt.Errorf("nil Catalog is invalid")
	}
	if option.Gateway == nil {
		return nil, fmt.Errorf("nil Gateway is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
		validate:       validator.New(),
	}, nil
}

// NewOrderRequest is the customer-supplied part of an order; prices are never
// accepted from the client
type NewOrderRequest struct {
	ProductID     string   `json:"productId" validate:"required"`
	RegionCode    string   `json:"regionCode" validate:"required"`
	ImageID       string   `json:"imageId"`
	BillingMonths int      `json:"billingMonths" validate:"gte=1,lte=24"`
	SSHKeyIDs     []string `json:"sshKeyIds"`
	UserData      string   `json:"userData"`
}

func (s *Service) newOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	logger := s.Logger.With(zap.String("CustomerID", claims.ID))

	var req NewOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Invalid order request").WithResult(err.Error()))
		return
	}

	quote, err := s.Catalog.Quote(req.ProductID, req.RegionCode, req.ImageID)
	if err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}

	charge := quote.ForMonths(req.BillingMonths)

	o := &Order{
		ID:                    uuid.New().String(),
		UserID:                claims.ID,
		ProductID:             req.ProductID,
		Status:                StatusPending,
		BillingMonths:         req.BillingMonths,
		RegionCode:            req.RegionCode,
		ImageID:               quote.ImageID,
		TotalCents:            charge.TotalCents(),
		BaseCents:             charge.BaseCents,
		RegionAdjustmentCents: charge.RegionCents,
		OSAdjustmentCents:     charge.OSCents,
		SSHKeyIDs:             req.SSHKeyIDs,
		UserData:              req.UserData,
		ContactEmail:          claims.Email,
	}

	if err := s.OrderManager.Create(ctx, o); err != nil {
		logger.Error("Unable to create order",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot create order"))
		return
	}

	logger = logger.With(zap.String("OrderNumber", o.Number))

	intentID, err := s.Gateway.CreateIntent(ctx, o.Number, o.TotalCents, "usd")
	if err != nil {
		logger.Error("Unable to create payment intent",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUpstream().AddMessages("Cannot initiate payment"))
		return
	}

	o.PaymentIntentID = intentID
	if err := s.OrderManager.Update(ctx, o); err != nil {
		logger.Error("Unable to attach payment intent to order",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot create order"))
		return
	}

	resp.WriteResponse(w, r, o)
}

// getOrder re-checks ownership; administrators may read any order
func (s *Service) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)
	orderID := chi.URLParam(r, "id")

	o, err := s.OrderManager.GetByID(ctx, orderID)
	if err != nil {
		s.Logger.Error("Unable to query order",
			zap.String("OrderID", orderID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot get details about the order"))
		return
	}
	if o == nil || (o.UserID != claims.ID && !claims.Admin) {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Cannot find order with specific ID"))
		return
	}

	resp.WriteResponse(w, r, o)
}

func (s *Service) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	results, err := s.OrderManager.List(ctx, claims.ID, 50)
	if err != nil {
		s.Logger.Error("Unable to list orders by customer id",
			zap.String("CustomerID", claims.ID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot get the list of orders"))
		return
	}

	resp.WriteResponse(w, r, results)
}

// confirmPayment re-reads the intent state from the gateway and advances the
// order to PAID. The client never self-reports payment success.
func (s *Service) confirmPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)
	orderID := chi.URLParam(r, "id")

	logger := s.Logger.With(
		zap.String("CustomerID", claims.ID),
		zap.String("OrderID", orderID),
	)

	o, err := s.OrderManager.GetByID(ctx, orderID)
	if err != nil {
		logger.Error("Unable to query order",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot get details about the order"))
		return
	}
	if o == nil || (o.UserID != claims.ID && !claims.Admin) {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Cannot find order with specific ID"))
		return
	}
	if o.Status != StatusPending {
		// already paid (or beyond): confirming again is a no-op
		resp.WriteResponse(w, r, o)
		return
	}
	if o.PaymentIntentID == "" {
		resp.WriteError(w, r, resp.ErrConflict().AddMessages("Order has no payment attached"))
		return
	}

	paid, err := s.Gateway.IsPaid(ctx, o.PaymentIntentID)
	if err != nil {
		logger.Error("Unable to verify payment with gateway",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUpstream().AddMessages("Cannot verify payment"))
		return
	}
	if !paid {
		resp.WriteError(w, r, resp.ErrConflict().AddMessages("Payment has not succeeded yet"))
		return
	}

	updated, err := s.Transitioner.Transition(ctx, o.ID, StatusPaid)
	if err != nil {
		s.writeTransitionError(w, r, logger, err)
		return
	}

	resp.WriteResponse(w, r, updated)
}

func (s *Service) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)
	orderID := chi.URLParam(r, "id")

	logger := s.Logger.With(
		zap.String("CustomerID", claims.ID),
		zap.String("OrderID", orderID),
	)

	o, err := s.OrderManager.GetByID(ctx, orderID)
	if err != nil {
		logger.Error("Unable to query order",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot get details about the order"))
		return
	}
	if o == nil || (o.UserID != claims.ID && !claims.Admin) {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Cannot find order with specific ID"))
		return
	}

	updated, err := s.Transitioner.Cancel(ctx, orderID, !claims.Admin)
	if err != nil {
		s.writeTransitionError(w, r, logger, err)
		return
	}

	resp.WriteResponse(w, r, updated)
}

// TransitionRequest is the admin-only request to move an order
type TransitionRequest struct {
	Target Status `json:"target" validate:"required"`
}

func (s *Service) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := chi.URLParam(r, "id")

	logger := s.Logger.With(zap.String("OrderID", orderID))

	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Invalid transition request"))
		return
	}

	updated, err := s.Transitioner.Transition(ctx, orderID, req.Target)
	if err != nil {
		s.writeTransitionError(w, r, logger, err)
		return
	}

	resp.WriteResponse(w, r, updated)
}

func (s *Service) writeTransitionError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	var invalidTransition *InvalidTransitionError
	var invalidState *InvalidStateError
	switch {
	case errors.Is(err, ErrNotFound):
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Cannot find order with specific ID"))
	case errors.As(err, &invalidTransition):
		resp.WriteError(w, r, resp.ErrConflict().AddMessages(invalidTransition.Error()))
	case errors.As(err, &invalidState):
		resp.WriteError(w, r, resp.ErrConflict().AddMessages(invalidState.Error()))
	default:
		logger.Error("Unable to transition order",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot update the order"))
	}
}

// Router will return the routes under order API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/", s.listOrders)
	r.Post("/", s.newOrder)
	r.Get("/{id}", s.getOrder)
	r.Post("/{id}/confirmPayment", s.confirmPayment)
	r.Delete("/{id}", s.cancelOrder)

	return r
}

// AdminRouter returns the admin-only order routes
func (s *Service) AdminRouter() http.Handler {
	r := chi.NewRouter()

	r.Post("/{id}/transition", s.transitionOrder)

	return r
}
