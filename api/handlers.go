/*
handlers.go - HTTP API handlers for the leave approval engine

ENDPOINTS:
  Requests (acting employee from the X-Employee-ID header):
    POST   /api/requests                Submit a leave request
    GET    /api/requests/mine           Own requests, newest first
    GET    /api/requests/pending        Requests awaiting my decision
    GET    /api/requests/history        Requests my scope covers
    GET    /api/requests/{id}           One request
    POST   /api/requests/{id}/approve   Approve the active step
    POST   /api/requests/{id}/reject    Reject the active step
    GET    /api/on-leave?date=          Who in my scope is off on a date

  Employees:
    GET    /api/employees               Directory listing
    POST   /api/employees               Upsert an employee (seeding)
    GET    /api/employees/{id}/balance  Current balance
    GET    /api/employees/{id}/ledger   Balance journal

  Notifications:
    GET    /api/notifications           Recent notifications for me

  Scenarios: see scenarios.go

ERROR HANDLING:
  Errors are returned as ErrorResponse with a machine-readable code:
  - 400 INVALID_INPUT, INVALID_RANGE
  - 403 NOT_AUTHORIZED
  - 404 NOT_FOUND
  - 409 ALREADY_TERMINAL, CONFLICT
  - 422 INSUFFICIENT_BALANCE, BROKEN_ORG_CHART
  - 500 INTERNAL_ERROR

SECURITY NOTE:
  The acting employee is trusted from a header. Authentication belongs in
  front of this service.
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/notify"
	"github.com/warp/leave-engine/timeoff"
)

const ActorHeader = "X-Employee-ID"

// Inbox serves recent notifications per recipient.
type Inbox interface {
	Recent(ctx context.Context, recipient generic.EntityID, n int) ([]notify.Envelope, error)
}

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine    *timeoff.Engine
	Directory timeoff.Directory
	Inbox     Inbox // optional

	log *zap.Logger

	mu              sync.Mutex
	currentScenario string
}

func NewHandler(engine *timeoff.Engine, dir timeoff.Directory, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Engine:    engine,
		Directory: dir,
		log:       logger.Named("api"),
	}
}

// =============================================================================
// REQUEST HANDLERS
// =============================================================================

// CreateRequest submits a leave request for the acting employee.
// POST /api/requests
func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var body CreateLeaveRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid request body", err.Error())
		return
	}
	if strings.TrimSpace(body.LeaveType) == "" {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "leave_type is required", nil)
		return
	}
	start, err := generic.ParseDate(body.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid start_date (use YYYY-MM-DD)", err.Error())
		return
	}
	end, err := generic.ParseDate(body.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid end_date (use YYYY-MM-DD)", err.Error())
		return
	}

	req, err := h.Engine.Create(r.Context(), actor, timeoff.CreateInput{
		LeaveType: body.LeaveType,
		StartDate: start,
		EndDate:   end,
		Reason:    body.Reason,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequestDTO(req))
}

// ApproveRequest approves the active step.
// POST /api/requests/{id}/approve
func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	h.takeAction(w, r, timeoff.StatusApproved)
}

// RejectRequest rejects the active step and releases the reserved days.
// POST /api/requests/{id}/reject
func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	h.takeAction(w, r, timeoff.StatusRejected)
}

func (h *Handler) takeAction(w http.ResponseWriter, r *http.Request, decision timeoff.Status) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var body ActionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid request body", err.Error())
			return
		}
	}

	req, err := h.Engine.TakeAction(r.Context(), chi.URLParam(r, "id"), actor, decision, body.Comments)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(req))
}

// GetRequest returns a single request.
// GET /api/requests/{id}
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.Engine.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(req))
}

// ListMine returns the acting employee's own requests.
// GET /api/requests/mine
func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	h.listFor(w, r, h.Engine.FindForEmployee)
}

// ListPending returns the requests whose active step belongs to the actor.
// GET /api/requests/pending
func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	h.listFor(w, r, h.Engine.FindPendingForApprover)
}

// ListHistory returns every request the actor may see.
// GET /api/requests/history
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	h.listFor(w, r, h.Engine.FindVisibleHistory)
}

func (h *Handler) listFor(w http.ResponseWriter, r *http.Request,
	find func(context.Context, generic.EntityID) ([]timeoff.LeaveRequest, error)) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	reqs, err := find(r.Context(), actor)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTOs(reqs))
}

// ListOnLeave returns who in the actor's scope is on approved leave.
// GET /api/on-leave?date=YYYY-MM-DD (defaults to today)
func (h *Handler) ListOnLeave(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	date := generic.Today()
	if raw := r.URL.Query().Get("date"); raw != "" {
		d, err := generic.ParseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid date (use YYYY-MM-DD)", err.Error())
			return
		}
		date = d
	}

	list, err := h.Engine.FindOnLeave(r.Context(), actor, date)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOnLeaveDTOs(list))
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns all employees.
// GET /api/employees
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Directory.ListEmployees(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SaveEmployee upserts an employee.
// POST /api/employees
func (h *Handler) SaveEmployee(w http.ResponseWriter, r *http.Request) {
	var body SaveEmployeeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid request body", err.Error())
		return
	}
	if body.ID == "" || body.Name == "" {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "id and name are required", nil)
		return
	}
	if body.LeaveBalance < 0 {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "leave_balance must not be negative", nil)
		return
	}

	emp := body.toEmployee()
	if err := h.Directory.SaveEmployee(r.Context(), emp); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(emp))
}

// GetBalance returns an employee's current balance.
// GET /api/employees/{id}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := generic.EntityID(chi.URLParam(r, "id"))
	bal, err := h.Engine.Balance(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{EmployeeID: string(id), Balance: bal.Int(), Unit: string(generic.UnitDays)})
}

// GetLedger returns an employee's balance journal.
// GET /api/employees/{id}/ledger
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Engine.Ledger(r.Context(), generic.EntityID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLedgerDTOs(entries))
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

// ListNotifications returns the actor's recent notifications.
// GET /api/notifications?limit=N
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if h.Inbox == nil {
		writeError(w, http.StatusNotImplemented, "NOT_CONFIGURED", "No notification inbox configured", nil)
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "INVALID_INPUT", "limit must be a positive integer", nil)
			return
		}
		limit = n
	}

	envs, err := h.Inbox.Recent(r.Context(), actor, limit)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envs)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (generic.EntityID, bool) {
	id := strings.TrimSpace(r.Header.Get(ActorHeader))
	if id == "" {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", ActorHeader+" header is required", nil)
		return "", false
	}
	return generic.EntityID(id), true
}

// writeDomainError maps the engine's error taxonomy to HTTP.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var (
		insufficient *generic.InsufficientBalanceError
		notAuth      *generic.NotAuthorizedError
		broken       *generic.BrokenOrgChartError
	)

	switch {
	case errors.As(err, &insufficient):
		writeError(w, http.StatusUnprocessableEntity, "INSUFFICIENT_BALANCE", "Insufficient balance", map[string]int{
			"available": insufficient.Available.Int(),
			"requested": insufficient.Requested.Int(),
			"shortfall": insufficient.Shortfall.Int(),
		})
	case errors.Is(err, generic.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, "INVALID_RANGE", "Leave range holds no business days", err.Error())
	case errors.Is(err, generic.ErrInvalidDecision):
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid decision", err.Error())
	case errors.As(err, &notAuth):
		writeError(w, http.StatusForbidden, "NOT_AUTHORIZED", "Not the active approver", map[string]string{
			"expected_approver_id": string(notAuth.ExpectedApproverID),
		})
	case errors.Is(err, generic.ErrAlreadyTerminal):
		writeError(w, http.StatusConflict, "ALREADY_TERMINAL", "Request already resolved", err.Error())
	case errors.Is(err, generic.ErrConcurrentModification), errors.Is(err, generic.ErrDuplicateIdempotencyKey):
		writeError(w, http.StatusConflict, "CONFLICT", "Request was modified concurrently, retry", err.Error())
	case errors.As(err, &broken):
		writeError(w, http.StatusUnprocessableEntity, "BROKEN_ORG_CHART", "Approval chain cannot be built", map[string]string{
			"at":     string(broken.At),
			"reason": broken.Reason,
		})
	case generic.IsNotFound(err):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", err.Error())
	default:
		h.log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal error", nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}
