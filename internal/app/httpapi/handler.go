// Package httpapi exposes the platform services over a REST API with JWT
// authentication.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	app "github.com/crowdgrid/platform/internal/app"
	"github.com/crowdgrid/platform/internal/app/domain/account"
	"github.com/crowdgrid/platform/internal/app/domain/grid"
	"github.com/crowdgrid/platform/internal/app/domain/update"
	"github.com/crowdgrid/platform/internal/app/metrics"
	"github.com/crowdgrid/platform/internal/app/pricing"
	"github.com/crowdgrid/platform/internal/app/services/accounts"
	ledgersvc "github.com/crowdgrid/platform/internal/app/services/ledger"
	modelssvc "github.com/crowdgrid/platform/internal/app/services/models"
	updatessvc "github.com/crowdgrid/platform/internal/app/services/updates"
	"github.com/crowdgrid/platform/internal/app/storage"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app    *app.Application
	issuer *TokenIssuer
}

// NewHandler returns a router exposing the REST API. Auth, health and metrics
// endpoints are public; everything else requires a bearer token.
func NewHandler(application *app.Application, issuer *TokenIssuer) http.Handler {
	h := &handler{app: application, issuer: issuer}

	r := mux.NewRouter()
	r.Use(metrics.InstrumentHandler)

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/api/auth/register", h.register).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/login", h.login).Methods(http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(authMiddleware(issuer))

	api.HandleFunc("/account/balance", h.balance).Methods(http.MethodGet)
	api.HandleFunc("/account/me", h.me).Methods(http.MethodGet)

	api.HandleFunc("/models", h.createModel).Methods(http.MethodPost)
	api.HandleFunc("/models", h.listModels).Methods(http.MethodGet)
	api.HandleFunc("/models/{id}/execute", h.executeModel).Methods(http.MethodPost)
	api.HandleFunc("/models/{id}/status", h.modelStatus).Methods(http.MethodGet)
	api.HandleFunc("/models/{id}/cell", h.readCell).Methods(http.MethodGet)
	api.HandleFunc("/models/{id}", h.getModel).Methods(http.MethodGet)

	api.HandleFunc("/updates/models/{id}/request", h.requestUpdate).Methods(http.MethodPost)
	api.HandleFunc("/updates/models/{id}/history", h.updateHistory).Methods(http.MethodGet)
	api.HandleFunc("/updates/pending", h.pendingUpdates).Methods(http.MethodGet)
	api.HandleFunc("/updates/approve-reject", h.decideUpdates).Methods(http.MethodPut)
	api.HandleFunc("/updates/{id}", h.getUpdate).Methods(http.MethodGet)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(requireAdmin)
	admin.HandleFunc("/recharge", h.recharge).Methods(http.MethodPost)
	admin.HandleFunc("/stats", h.stats).Methods(http.MethodGet)
	admin.HandleFunc("/users", h.listUsers).Methods(http.MethodGet)
	admin.HandleFunc("/audit", h.auditTrail).Methods(http.MethodGet)

	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	acct, err := h.app.Accounts.Register(r.Context(), payload.Email, payload.Password, account.RoleUser)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	token, err := h.issuer.Issue(acct)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"token":   token,
		"account": accountResponse(acct),
	})
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	acct, err := h.app.Accounts.Authenticate(r.Context(), payload.Email, payload.Password)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	token, err := h.issuer.Issue(acct)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":   token,
		"account": accountResponse(acct),
	})
}

func (h *handler) balance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.app.Ledger.Balance(r.Context(), accountIDFromContext(r.Context()))
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"balance": balance.StringFixed(2)})
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	acct, err := h.app.Accounts.Get(r.Context(), accountIDFromContext(r.Context()))
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": accountResponse(acct)})
}

func (h *handler) createModel(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name string  `json:"name"`
		Grid [][]int `json:"grid"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.app.Models.Create(r.Context(), accountIDFromContext(r.Context()), payload.Name, payload.Grid)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"model":            modelResponse(result.Model),
		"creation_cost":    result.Cost.StringFixed(2),
		"remaining_tokens": result.BalanceAfter.StringFixed(2),
	})
}

func (h *handler) listModels(w http.ResponseWriter, r *http.Request) {
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	models, total, err := h.app.Models.ListByOwner(r.Context(), accountIDFromContext(r.Context()), limit, offset)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	items := make([]map[string]any, len(models))
	for i, m := range models {
		items[i] = modelResponse(m)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"models":     items,
		"pagination": paginationResponse(page, limit, total),
	})
}

func (h *handler) executeModel(w http.ResponseWriter, r *http.Request) {
	modelID := mux.Vars(r)["id"]

	var payload executePayload
	if err := decodeJSONLoose(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	start, goal, err := payload.normalize()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.app.Models.Execute(r.Context(), accountIDFromContext(r.Context()), modelID, start, goal)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"model_id":          result.ModelID,
		"start":             coordResponse(result.Start),
		"goal":              coordResponse(result.Goal),
		"path":              pathResponse(result.Path),
		"path_found":        result.PathFound,
		"path_cost":         result.StepCost,
		"execution_time_ms": result.Elapsed.Milliseconds(),
		"token_cost":        result.Cost.StringFixed(2),
		"remaining_tokens":  result.BalanceAfter.StringFixed(2),
	})
}

func (h *handler) modelStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.app.Models.GetStatus(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"model_id":         status.ModelID,
		"name":             status.Name,
		"has_pending":      status.PendingCount > 0,
		"pending_requests": status.PendingCount,
	})
}

func (h *handler) getModel(w http.ResponseWriter, r *http.Request) {
	model, err := h.app.Models.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"model": modelResponse(model)})
}

func (h *handler) readCell(w http.ResponseWriter, r *http.Request) {
	x, errX := strconv.Atoi(r.URL.Query().Get("x"))
	y, errY := strconv.Atoi(r.URL.Query().Get("y"))
	if errX != nil || errY != nil {
		writeError(w, http.StatusBadRequest, errors.New("query parameters x and y must be integers"))
		return
	}

	modelID := mux.Vars(r)["id"]
	value, err := h.app.Models.ReadCell(r.Context(), modelID, x, y)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"model_id": modelID,
		"x":        x,
		"y":        y,
		"value":    value,
	})
}

func (h *handler) requestUpdate(w http.ResponseWriter, r *http.Request) {
	modelID := mux.Vars(r)["id"]

	var payload struct {
		Cells []struct {
			X     int `json:"x"`
			Y     int `json:"y"`
			Value int `json:"value"`
		} `json:"cells"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	edits := make([]updatessvc.ProposedEdit, len(payload.Cells))
	for i, c := range payload.Cells {
		edits[i] = updatessvc.ProposedEdit{X: c.X, Y: c.Y, Value: c.Value}
	}

	result, err := h.app.Updates.Submit(r.Context(), accountIDFromContext(r.Context()), modelID, edits)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}

	if result.AppliedDirectly {
		writeJSON(w, http.StatusOK, map[string]any{
			"applied_directly": true,
			"model_id":         modelID,
			"effective_edits":  result.EffectiveEdits,
			"token_cost":       result.Cost.StringFixed(2),
			"remaining_tokens": result.BalanceAfter.StringFixed(2),
		})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"applied_directly": false,
		"request":          requestResponse(result.Request),
		"effective_edits":  result.EffectiveEdits,
		"token_cost":       result.Cost.StringFixed(2),
		"remaining_tokens": result.BalanceAfter.StringFixed(2),
	})
}

func (h *handler) pendingUpdates(w http.ResponseWriter, r *http.Request) {
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	requests, total, err := h.app.Updates.PendingForOwner(r.Context(), accountIDFromContext(r.Context()), limit, offset)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	items := make([]map[string]any, len(requests))
	for i, req := range requests {
		items[i] = requestResponse(req)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requests":   items,
		"pagination": paginationResponse(page, limit, total),
	})
}

func (h *handler) decideUpdates(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Requests []struct {
			ID     string `json:"id"`
			Action string `json:"action"`
		} `json:"requests"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	items := make([]updatessvc.DecisionItem, len(payload.Requests))
	for i, req := range payload.Requests {
		items[i] = updatessvc.DecisionItem{RequestID: req.ID, Action: update.Action(req.Action)}
	}

	outcomes, err := h.app.Updates.Decide(r.Context(), accountIDFromContext(r.Context()), items)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	results := make([]map[string]any, len(outcomes))
	for i, o := range outcomes {
		results[i] = map[string]any{
			"request_id": o.RequestID,
			"outcome":    o.Outcome,
		}
		if o.Detail != "" {
			results[i]["detail"] = o.Detail
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (h *handler) getUpdate(w http.ResponseWriter, r *http.Request) {
	req, err := h.app.Updates.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}

	// Visible to the requester and to the owner of the targeted grid.
	callerID := accountIDFromContext(r.Context())
	if req.RequesterID != callerID {
		model, err := h.app.Models.Get(r.Context(), req.ModelID)
		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		if model.OwnerID != callerID {
			writeError(w, http.StatusForbidden, errors.New("request belongs to another account"))
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"request": requestResponse(req)})
}

func (h *handler) updateHistory(w http.ResponseWriter, r *http.Request) {
	modelID := mux.Vars(r)["id"]
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	filters, err := parseHistoryFilters(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	requests, total, err := h.app.Updates.History(r.Context(), modelID, filters, limit, offset)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	items := make([]map[string]any, len(requests))
	for i, req := range requests {
		items[i] = requestResponse(req)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"model_id":   modelID,
		"requests":   items,
		"pagination": paginationResponse(page, limit, total),
	})
}

func (h *handler) recharge(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email      string          `json:"email"`
		NewBalance decimal.Decimal `json:"new_balance"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.app.Ledger.Recharge(r.Context(), payload.Email, payload.NewBalance)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id":       result.AccountID,
		"email":            result.Email,
		"previous_balance": result.PreviousBalance.StringFixed(2),
		"new_balance":      result.NewBalance.StringFixed(2),
	})
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.app.Accounts.SystemStats(r.Context())
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	requests := make(map[string]int, len(stats.Requests))
	for state, n := range stats.Requests {
		requests[string(state)] = n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accounts":     stats.Accounts,
		"models":       stats.Models,
		"requests":     requests,
		"total_tokens": stats.TotalTokens.StringFixed(2),
	})
}

func (h *handler) listUsers(w http.ResponseWriter, r *http.Request) {
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	accts, total, err := h.app.Accounts.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	items := make([]map[string]any, len(accts))
	for i, acct := range accts {
		items[i] = accountResponse(acct)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"users":      items,
		"pagination": paginationResponse(page, limit, total),
	})
}

func (h *handler) auditTrail(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": h.app.Ledger.AuditTrail(limit)})
}

// executePayload accepts both flat and nested coordinate formats:
// {startX, startY, goalX, goalY} or {start: {x, y}, goal|end: {x, y}}.
type executePayload struct {
	StartX *int       `json:"startX"`
	StartY *int       `json:"startY"`
	GoalX  *int       `json:"goalX"`
	GoalY  *int       `json:"goalY"`
	Start  *coordBody `json:"start"`
	Goal   *coordBody `json:"goal"`
	End    *coordBody `json:"end"`
}

type coordBody struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p executePayload) normalize() (start, goal grid.Coordinate, err error) {
	switch {
	case p.Start != nil && (p.Goal != nil || p.End != nil):
		start = grid.Coordinate{X: p.Start.X, Y: p.Start.Y}
		target := p.Goal
		if target == nil {
			target = p.End
		}
		goal = grid.Coordinate{X: target.X, Y: target.Y}
	case p.StartX != nil && p.StartY != nil && p.GoalX != nil && p.GoalY != nil:
		start = grid.Coordinate{X: *p.StartX, Y: *p.StartY}
		goal = grid.Coordinate{X: *p.GoalX, Y: *p.GoalY}
	default:
		err = errors.New("start and goal coordinates are required; supported formats: {startX, startY, goalX, goalY} or {start: {x, y}, goal: {x, y}} or {start: {x, y}, end: {x, y}}")
	}
	return start, goal, err
}

func parsePagination(r *http.Request) (page, limit, offset int, err error) {
	page, limit = 1, 10
	q := r.URL.Query()
	if raw := q.Get("page"); raw != "" {
		if page, err = strconv.Atoi(raw); err != nil || page < 1 {
			return 0, 0, 0, errors.New("page must be a positive integer")
		}
	}
	if raw := q.Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 1 || limit > 100 {
			return 0, 0, 0, errors.New("limit must be between 1 and 100")
		}
	}
	return page, limit, (page - 1) * limit, nil
}

func parseHistoryFilters(r *http.Request) (update.Filters, error) {
	var filters update.Filters
	q := r.URL.Query()
	if raw := q.Get("state"); raw != "" {
		state := update.State(raw)
		if state != update.StatePending && !state.Terminal() {
			return update.Filters{}, fmt.Errorf("unknown state %q", raw)
		}
		filters.State = &state
	}
	if raw := q.Get("from"); raw != "" {
		from, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return update.Filters{}, errors.New("from must be a YYYY-MM-DD date")
		}
		filters.From = &from
	}
	if raw := q.Get("to"); raw != "" {
		to, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return update.Filters{}, errors.New("to must be a YYYY-MM-DD date")
		}
		end := to.Add(24*time.Hour - time.Nanosecond)
		filters.To = &end
	}
	return filters, nil
}

func accountResponse(acct account.Account) map[string]any {
	return map[string]any{
		"id":      acct.ID,
		"email":   acct.Email,
		"role":    string(acct.Role),
		"balance": acct.Balance.StringFixed(2),
	}
}

func modelResponse(m grid.Model) map[string]any {
	return map[string]any{
		"id":            m.ID,
		"name":          m.Name,
		"width":         m.Width,
		"height":        m.Height,
		"grid":          m.Cells,
		"creation_cost": m.CreationCost.StringFixed(2),
		"owner_id":      m.OwnerID,
		"created_at":    m.CreatedAt,
	}
}

func requestResponse(req update.Request) map[string]any {
	edits := make([]map[string]any, len(req.Edits))
	for i, e := range req.Edits {
		edits[i] = map[string]any{"x": e.X, "y": e.Y, "value": e.Value}
	}
	return map[string]any{
		"id":           req.ID,
		"state":        string(req.State),
		"total_cost":   req.TotalCost.StringFixed(2),
		"model_id":     req.ModelID,
		"requester_id": req.RequesterID,
		"edits":        edits,
		"created_at":   req.CreatedAt,
	}
}

func coordResponse(c grid.Coordinate) map[string]int {
	return map[string]int{"x": c.X, "y": c.Y}
}

func pathResponse(path []grid.Coordinate) []map[string]int {
	out := make([]map[string]int, len(path))
	for i, c := range path {
		out[i] = coordResponse(c)
	}
	return out
}

func paginationResponse(page, limit, total int) map[string]any {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return map[string]any{
		"current_page":   page,
		"items_per_page": limit,
		"total_items":    total,
		"total_pages":    pages,
	}
}

// errorStatus maps service errors onto HTTP status codes. Insufficient
// balance maps to 401 to match the platform's token-gating contract.
// Anything outside the enumerated taxonomy is a server fault, not a client
// one, and maps to 500.
func errorStatus(err error) int {
	var insufficient *ledgersvc.InsufficientFundsError
	var outOfBounds *grid.OutOfBoundsError
	var duplicate *updatessvc.DuplicateCoordinateError
	switch {
	case errors.As(err, &insufficient):
		return http.StatusUnauthorized
	case errors.Is(err, accounts.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, accounts.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &outOfBounds),
		errors.As(err, &duplicate),
		errors.Is(err, grid.ErrInvalidGrid),
		errors.Is(err, updatessvc.ErrNoEffectiveChanges),
		errors.Is(err, updatessvc.ErrNoEdits),
		errors.Is(err, updatessvc.ErrInvalidCellValue),
		errors.Is(err, updatessvc.ErrNoDecisions),
		errors.Is(err, modelssvc.ErrStartEqualsGoal),
		errors.Is(err, modelssvc.ErrNameRequired),
		errors.Is(err, accounts.ErrMissingCredentials),
		errors.Is(err, ledgersvc.ErrInvalidAmount),
		errors.Is(err, pricing.ErrInvalidDimensions),
		errors.Is(err, pricing.ErrInvalidCount):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// decodeJSONLoose tolerates unknown fields for payloads with alternative
// shapes.
func decodeJSONLoose(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	return json.NewDecoder(body).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
