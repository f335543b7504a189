package vps

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/nimbushost/nimbus/auth"
	"github.com/nimbushost/nimbus/order"
	"github.com/nimbushost/nimbus/provider"
	resp "github.com/nimbushost/nimbus/response"

	"github.com/go-chi/chi"
	"go.uber.org/zap"
)

// ServiceOptions contains the configuration for Service router
type ServiceOptions struct {
	InstanceManager *Manager
	Proxy           *ActionProxy
	Orchestrator    *Orchestrator
	Syncer          *SnapshotSyncer
	Logger          *zap.Logger
}

// Service is the vps API router
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the vps API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.InstanceManager == nil {
		return nil, fmt.Errorf("nil InstanceManager is invalid")
	}
	if option.Proxy == nil {
		return nil, fmt.Errorf("nil Proxy is invalid")
	}
	if option.Orchestrator == nil {
		return nil, fmt.Errorf("nil Orchestrator is invalid")
	}
	if option.Syncer == nil {
		return nil, fmt.Errorf("nil Syncer is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

func actorFromClaims(claims *auth.Claims) Actor {
	return Actor{
		UserID: claims.ID,
		Admin:  claims.Admin,
	}
}

// writeDomainError maps domain errors onto the API envelope. Not-found and
// not-owned are indistinguishable to the caller.
func (s *Service) writeDomainError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	var invalidState *InvalidStateError
	var conflict *ConflictError
	var invalidOrderState *order.InvalidStateError
	var upstream *provider.UpstreamError
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnauthorized):
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Cannot find instance with specific ID"))
	case errors.Is(err, order.ErrNotFound):
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Cannot find order with specific ID"))
	case errors.Is(err, ErrNotProvisioned):
		resp.WriteError(w, r, resp.ErrConflict().AddMessages("Instance has no provider instance assigned"))
	case errors.As(err, &invalidState):
		resp.WriteError(w, r, resp.ErrConflict().AddMessages(invalidState.Error()))
	case errors.As(err, &conflict):
		resp.WriteError(w, r, resp.ErrConflict().AddMessages(conflict.Error()))
	case errors.As(err, &invalidOrderState):
		resp.WriteError(w, r, resp.ErrConflict().AddMessages(invalidOrderState.Error()))
	case errors.As(err, &upstream):
		resp.WriteError(w, r, resp.ErrUpstream().AddMessages(upstream.Message))
	default:
		logger.Error("Unable to complete instance operation",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
	}
}

func (s *Service) listInstances(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	results, err := s.InstanceManager.ListForUser(ctx, claims.ID)
	if err != nil {
		s.Logger.Error("Unable to list instances by customer id",
			zap.String("CustomerID", claims.ID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot get the list of instances"))
		return
	}

	resp.WriteResponse(w, r, results)
}

func (s *Service) getInstance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)
	vpsID := chi.URLParam(r, "id")

	inst, err := s.InstanceManager.GetByID(ctx, vpsID)
	if err != nil {
		s.Logger.Error("Unable to query instance",
			zap.String("InstanceID", vpsID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot get details about the instance"))
		return
	}
	if inst == nil || (inst.UserID != claims.ID && !claims.Admin) {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Cannot find instance with specific ID"))
		return
	}

	resp.WriteResponse(w, r, inst)
}

// ActionRequest names the lifecycle action to proxy
type ActionRequest struct {
	Action string `json:"action"`
}

func (s *Service) controlInstance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)
	vpsID := chi.URLParam(r, "id")

	logger := s.Logger.With(
		zap.String("CustomerID", claims.ID),
		zap.String("InstanceID", vpsID),
	)

	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if !KnownAction(req.Action) || req.Action == ActionResetPassword {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Unknown action"))
		return
	}

	action, err := s.Proxy.Execute(ctx, actorFromClaims(claims), vpsID, req.Action)
	if err != nil {
		s.writeDomainError(w, r, logger, err)
		return
	}

	resp.WriteResponse(w, r, action)
}

func (s *Service) listActions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)
	vpsID := chi.URLParam(r, "id")

	inst, err := s.InstanceManager.GetByID(ctx, vpsID)
	if err != nil {
		s.Logger.Error("Unable to query instance",
			zap.String("InstanceID", vpsID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	if inst == nil || (inst.UserID != claims.ID && !claims.Admin) {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Cannot find instance with specific ID"))
		return
	}

	actions, err := s.InstanceManager.ListActions(ctx, vpsID)
	if err != nil {
		s.Logger.Error("Unable to list actions",
			zap.String("InstanceID", vpsID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot get the action history"))
		return
	}

	resp.WriteResponse(w, r, actions)
}

// PasswordResponse carries a plaintext credential exactly once per request
type PasswordResponse struct {
	RootPassword string `json:"rootPassword"`
}

func (s *Service) getRootPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)
	vpsID := chi.URLParam(r, "id")

	logger := s.Logger.With(
		zap.String("CustomerID", claims.ID),
		zap.String("InstanceID", vpsID),
	)

	password, err := s.Proxy.GetRootPassword(ctx, actorFromClaims(claims), vpsID)
	if err != nil {
		s.writeDomainError(w, r, logger, err)
		return
	}

	resp.WriteResponse(w, r, PasswordResponse{RootPassword: password})
}

func (s *Service) resetRootPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)
	vpsID := chi.URLParam(r, "id")

	logger := s.Logger.With(
		zap.String("CustomerID", claims.ID),
		zap.String("InstanceID", vpsID),
	)

	password, err := s.Proxy.ResetPassword(ctx, actorFromClaims(claims), vpsID)
	if err != nil {
		s.writeDomainError(w, r, logger, err)
		return
	}

	resp.WriteResponse(w, r, PasswordResponse{RootPassword: password})
}

func (s *Service) listSnapshots(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)
	vpsID := chi.URLParam(r, "id")

	logger := s.Logger.With(
		zap.String("CustomerID", claims.ID),
		zap.String("InstanceID", vpsID),
	)

	results, err := s.Syncer.ListSnapshots(ctx, actorFromClaims(claims), vpsID)
	if err != nil {
		s.writeDomainError(w, r, logger, err)
		return
	}

	resp.WriteResponse(w, r, results)
}

// NewSnapshotRequest names the snapshot to take
type NewSnapshotRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Service) createSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)
	vpsID := chi.URLParam(r, "id")

	logger := s.Logger.With(
		zap.String("CustomerID", claims.ID),
		zap.String("InstanceID", vpsID),
	)

	var req NewSnapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if req.Name == "" {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("name is required"))
		return
	}

	result, err := s.Syncer.CreateSnapshot(ctx, actorFromClaims(claims), vpsID, req.Name, req.Description)
	if err != nil {
		s.writeDomainError(w, r, logger, err)
		return
	}

	resp.WriteResponse(w, r, result)
}

func (s *Service) deleteSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)
	vpsID := chi.URLParam(r, "id")
	snapshotID := chi.URLParam(r, "snapshotId")

	logger := s.Logger.With(
		zap.String("CustomerID", claims.ID),
		zap.String("InstanceID", vpsID),
		zap.String("SnapshotID", snapshotID),
	)

	if err := s.Syncer.DeleteSnapshot(ctx, actorFromClaims(claims), vpsID, snapshotID); err != nil {
		s.writeDomainError(w, r, logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) syncSnapshots(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)
	vpsID := chi.URLParam(r, "id")

	logger := s.Logger.With(
		zap.String("CustomerID", claims.ID),
		zap.String("InstanceID", vpsID),
	)

	merged, err := s.Syncer.SyncSnapshots(ctx, actorFromClaims(claims), vpsID)
	if err != nil {
		s.writeDomainError(w, r, logger, err)
		return
	}

	resp.WriteResponse(w, r, merged)
}

// ProvisionRequest is the admin-supplied binding of an order to a freshly
// created provider instance
type ProvisionRequest struct {
	OrderID            string `json:"orderId"`
	ProviderInstanceID string `json:"providerInstanceId"`
	IPAddress          string `json:"ipAddress"`
	RootPassword       string `json:"rootPassword"`
	Region             string `json:"region"`
	DisplayName        string `json:"displayName"`
	Notes              string `json:"notes"`
}

func (s *Service) provisionInstance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ProvisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}

	providerID, err := strconv.ParseInt(req.ProviderInstanceID, 10, 64)
	if err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Invalid providerInstanceId"))
		return
	}
	if req.OrderID == "" || req.RootPassword == "" {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("orderId and rootPassword are required"))
		return
	}

	logger := s.Logger.With(
		zap.String("OrderID", req.OrderID),
		zap.Int64("ProviderInstanceID", providerID),
	)

	inst, err := s.Orchestrator.Provision(ctx, ProvisionInput{
		OrderID:            req.OrderID,
		ProviderInstanceID: providerID,
		IPAddress:          req.IPAddress,
		RootPassword:       req.RootPassword,
		Region:             req.Region,
		DisplayName:        req.DisplayName,
		Notes:              req.Notes,
	})
	if err != nil {
		s.writeDomainError(w, r, logger, err)
		return
	}

	resp.WriteResponse(w, r, inst)
}

// AssignRequest binds an order to a pre-existing unassigned instance
type AssignRequest struct {
	OrderID string `json:"orderId"`
	VpsID   string `json:"vpsId"`
}

func (s *Service) assignInstance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if req.OrderID == "" || req.VpsID == "" {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("orderId and vpsId are required"))
		return
	}

	logger := s.Logger.With(
		zap.String("OrderID", req.OrderID),
		zap.String("InstanceID", req.VpsID),
	)

	inst, err := s.Orchestrator.AssignExisting(ctx, req.OrderID, req.VpsID)
	if err != nil {
		s.writeDomainError(w, r, logger, err)
		return
	}

	resp.WriteResponse(w, r, inst)
}

// SuspendRequest carries the administrative suspension reason
type SuspendRequest struct {
	Reason string `json:"reason"`
}

func (s *Service) suspendInstance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)
	vpsID := chi.URLParam(r, "id")

	logger := s.Logger.With(zap.String("InstanceID", vpsID))

	var req SuspendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}

	inst, err := s.Proxy.Suspend(ctx, actorFromClaims(claims), vpsID, req.Reason)
	if err != nil {
		s.writeDomainError(w, r, logger, err)
		return
	}

	resp.WriteResponse(w, r, inst)
}

func (s *Service) unsuspendInstance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)
	vpsID := chi.URLParam(r, "id")

	logger := s.Logger.With(zap.String("InstanceID", vpsID))

	inst, err := s.Proxy.Unsuspend(ctx, actorFromClaims(claims), vpsID)
	if err != nil {
		s.writeDomainError(w, r, logger, err)
		return
	}

	resp.WriteResponse(w, r, inst)
}

// Router will return the routes under vps API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/", s.listInstances)
	r.Get("/{id}", s.getInstance)
	r.Post("/{id}", s.controlInstance)
	r.Get("/{id}/actions", s.listActions)
	r.Get("/{id}/password", s.getRootPassword)
	r.Post("/{id}/password", s.resetRootPassword)
	r.Get("/{id}/snapshots", s.listSnapshots)
	r.Post("/{id}/snapshots", s.createSnapshot)
	r.Delete("/{id}/snapshots/{snapshotId}", s.deleteSnapshot)
	r.Post("/{id}/snapshots/sync", s.syncSnapshots)

	return r
}

// AdminRouter returns the admin-only vps routes
func (s *Service) AdminRouter() http.Handler {
	r := chi.NewRouter()

	r.Post("/provision", s.provisionInstance)
	r.Post("/assign", s.assignInstance)
	r.Post("/{id}/suspend", s.suspendInstance)
	r.Post("/{id}/unsuspend", s.unsuspendInstance)

	return r
}
