package marketplace

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"taskmarket-backend/core/marketplace"
	"taskmarket-backend/docs"
	auth "taskmarket-backend/storage/auth"
)

type callerKey struct{}

// Server wires REST handlers for the marketplace.
type Server struct {
	market      *marketplace.Marketplace
	apiKeys     auth.APIKeyValidator
	metrics     http.Handler
	events      []marketplace.Event
	eventsMu    sync.Mutex
	listenersMu sync.Mutex
	listeners   []chan marketplace.Event
}

// TaskCreateBody is the payload of POST /tasks.
type TaskCreateBody struct {
	Description string `json:"description"`
	Reward      uint64 `json:"reward"`
	Deadline    uint64 `json:"deadline"`
}

// BidBody is the payload of POST /tasks/{id}/bids.
type BidBody struct {
	Amount   uint64 `json:"amount"`
	Proposal string `json:"proposal"`
}

// AssignBody is the payload of POST /tasks/{id}/assign.
type AssignBody struct {
	Bidder string `json:"bidder"`
}

// SubmitBody is the payload of POST /tasks/{id}/submit.
type SubmitBody struct {
	Proof string `json:"proof"`
}

// ReasonBody carries a free-text reason.
type ReasonBody struct {
	Reason string `json:"reason"`
}

// ResolveBody is the payload of POST /tasks/{id}/resolve.
type ResolveBody struct {
	Winner string `json:"winner"`
}

// ReviewBody is the payload of POST /reviews.
type ReviewBody struct {
	Reviewee string `json:"reviewee"`
	Rating   int    `json:"rating"`
	Comment  string `json:"comment"`
	TaskID   uint64 `json:"task_id"`
}

// SlashBody is the payload of POST /reputation/{account}/slash.
type SlashBody struct {
	Amount uint64 `json:"amount"`
	Reason string `json:"reason"`
}

// DepositBody is the payload of POST /accounts/{account}/deposit.
type DepositBody struct {
	Amount uint64 `json:"amount"`
}

// TasksResponse lists tasks.
type TasksResponse struct {
	Tasks []marketplace.Task `json:"tasks"`
	Total int                `json:"total"`
}

// EventsResponse lists buffered events.
type EventsResponse struct {
	Events []marketplace.Event `json:"events"`
	Total  int                 `json:"total"`
}

// NewServer builds a Server over market. apiKeys maps X-API-Key to the
// calling account; when nil, the X-Account header is trusted instead.
// metrics may be nil.
func NewServer(market *marketplace.Marketplace, apiKeys auth.APIKeyValidator, metrics http.Handler) *Server {
	s := &Server{market: market, apiKeys: apiKeys, metrics: metrics}
	market.Subscribe(s.recordEvent)
	return s
}

// RegisterRoutes attaches handlers to the mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/swagger/doc.json", s.handleSwagger)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	mux.HandleFunc("/api/marketplace/tasks", s.authWrap(s.handleTasks))
	mux.HandleFunc("/api/marketplace/tasks/", s.authWrap(s.handleTasks))
	mux.HandleFunc("/api/marketplace/reviews", s.authWrap(s.handleReviews))
	mux.HandleFunc("/api/marketplace/reputation/", s.authWrap(s.handleReputation))
	mux.HandleFunc("/api/marketplace/accounts/", s.authWrap(s.handleAccounts))
	mux.HandleFunc("/api/marketplace/audit", s.authWrap(s.handleAudit))
	mux.HandleFunc("/api/marketplace/events", s.authWrap(s.handleEvents))
}

func (s *Server) authWrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var caller string
		if s.apiKeys != nil {
			key := r.Header.Get("X-API-Key")
			rec, ok := s.apiKeys.Get(key)
			if key == "" || !ok {
				Error(w, http.StatusForbidden, "invalid api key")
				return
			}
			caller = rec.Account
		} else {
			caller = strings.TrimSpace(r.Header.Get("X-Account"))
		}
		next(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
	}
}

func callerFrom(r *http.Request) string {
	caller, _ := r.Context().Value(callerKey{}).(string)
	return caller
}

func capabilityFrom(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Capability"))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"height": s.market.Height(),
	})
}

func (s *Server) handleSwagger(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(docs.SwaggerInfo.ReadDoc()))
}

// handleTasks serves the task collection and every per-task action.
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/marketplace/tasks"), "/")
	if path == "" {
		switch r.Method {
		case http.MethodGet:
			s.handleListTasks(w, r)
		case http.MethodPost:
			s.handlePostTask(w, r)
		default:
			Error(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}

	parts := strings.Split(path, "/")
	id, err := parseTaskID(parts[0])
	if err != nil {
		writeErr(w, err)
		return
	}
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch r.Method {
	case http.MethodGet:
		s.handleTaskGet(w, r, id, action)
	case http.MethodPost:
		s.handleTaskAction(w, r, id, action)
	default:
		Error(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleListTasks lists tasks.
// @Summary List tasks
// @Tags Tasks
// @Produce json
// @Param status query string false "task status"
// @Param poster query string false "poster account"
// @Param assignee query string false "assignee account"
// @Param limit query int false "page size"
// @Param offset query int false "page offset"
// @Success 200 {object} TasksResponse
// @Router /api/marketplace/tasks [get]
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	filter := marketplace.TaskFilter{
		Status:   marketplace.TaskStatus(r.URL.Query().Get("status")),
		Poster:   r.URL.Query().Get("poster"),
		Assignee: r.URL.Query().Get("assignee"),
		Limit:    intFromQuery(r, "limit", 0),
		Offset:   intFromQuery(r, "offset", 0),
	}
	tasks, err := s.market.ListTasks(r.Context(), filter)
	if err != nil {
		writeErr(w, err)
		return
	}
	JSON(w, http.StatusOK, TasksResponse{Tasks: tasks, Total: len(tasks)})
}

// handlePostTask creates a task funded from the caller's balance.
// @Summary Post a task
// @Tags Tasks
// @Accept json
// @Produce json
// @Param body body TaskCreateBody true "task"
// @Success 201 {object} marketplace.Task
// @Failure 400 {object} ErrorResponse
// @Failure 402 {object} ErrorResponse
// @Router /api/marketplace/tasks [post]
func (s *Server) handlePostTask(w http.ResponseWriter, r *http.Request) {
	var body TaskCreateBody
	if err := decodeBody(w, r, &body); err != nil {
		writeErr(w, err)
		return
	}
	id, err := s.market.PostTask(r.Context(), callerFrom(r), body.Description, body.Reward, body.Deadline)
	if err != nil {
		writeErr(w, err)
		return
	}
	task, err := s.market.GetTask(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	JSON(w, http.StatusCreated, task)
}

func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request, id uint64, action string) {
	ctx := r.Context()
	switch action {
	case "":
		task, err := s.market.GetTask(ctx, id)
		if err != nil {
			writeErr(w, err)
			return
		}
		JSON(w, http.StatusOK, task)
	case "bids":
		bids, err := s.market.Bids(ctx, id)
		if err != nil {
			writeErr(w, err)
			return
		}
		JSON(w, http.StatusOK, map[string]interface{}{"bids": bids, "total": len(bids)})
	case "dispute":
		rec, err := s.market.Dispute(ctx, id)
		if err != nil {
			writeErr(w, err)
			return
		}
		JSON(w, http.StatusOK, rec)
	case "escrow":
		hold, err := s.market.Escrow(ctx, id)
		if err != nil {
			writeErr(w, err)
			return
		}
		JSON(w, http.StatusOK, hold)
	case "qr":
		s.handleTaskQR(w, r, id)
	default:
		Error(w, http.StatusNotFound, "unknown task resource")
	}
}

// handleTaskQR renders the task deep link as a PNG.
// @Summary Task QR code
// @Tags Tasks
// @Produce png
// @Param id path int true "task id"
// @Param size query int false "pixels" default(256)
// @Success 200 {file} binary
// @Router /api/marketplace/tasks/{id}/qr [get]
func (s *Server) handleTaskQR(w http.ResponseWriter, r *http.Request, id uint64) {
	task, err := s.market.GetTask(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	size := min(max(intFromQuery(r, "size", 256), 64), 1024)
	png, err := TaskQRCode(task, size)
	if err != nil {
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// handleTaskAction runs a lifecycle operation on behalf of the caller.
// @Summary Task lifecycle action
// @Description action is one of bids, assign, submit, approve, cancel, dispute, resolve. resolve requires X-Capability.
// @Tags Tasks
// @Accept json
// @Produce json
// @Param id path int true "task id"
// @Param action path string true "action"
// @Success 200 {object} marketplace.Task
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/marketplace/tasks/{id}/{action} [post]
func (s *Server) handleTaskAction(w http.ResponseWriter, r *http.Request, id uint64, action string) {
	ctx := r.Context()
	caller := callerFrom(r)
	var (
		result interface{}
		status = http.StatusOK
		err    error
	)
	switch action {
	case "bids":
		var body BidBody
		if err = decodeBody(w, r, &body); err == nil {
			result, err = s.market.BidOnTask(ctx, caller, id, body.Amount, body.Proposal)
			status = http.StatusCreated
		}
	case "assign":
		var body AssignBody
		if err = decodeBody(w, r, &body); err == nil {
			result, err = s.market.AssignTask(ctx, caller, id, body.Bidder)
		}
	case "submit":
		var body SubmitBody
		if err = decodeBody(w, r, &body); err == nil {
			result, err = s.market.SubmitWork(ctx, caller, id, []byte(body.Proof))
		}
	case "approve":
		result, err = s.market.ApproveWork(ctx, caller, id)
	case "cancel":
		result, err = s.market.CancelTask(ctx, caller, id)
	case "dispute":
		var body ReasonBody
		if err = decodeBody(w, r, &body); err == nil {
			result, err = s.market.DisputeTask(ctx, caller, id, body.Reason)
		}
	case "resolve":
		var body ResolveBody
		if err = decodeBody(w, r, &body); err == nil {
			result, err = s.market.ResolveDispute(ctx, capabilityFrom(r), id, body.Winner)
		}
	default:
		Error(w, http.StatusNotFound, "unknown task action")
		return
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	JSON(w, status, result)
}

// handleReviews records a review written by the caller.
// @Summary Submit a review
// @Tags Reputation
// @Accept json
// @Produce json
// @Param body body ReviewBody true "review"
// @Success 201 {object} marketplace.Review
// @Failure 409 {object} ErrorResponse
// @Router /api/marketplace/reviews [post]
func (s *Server) handleReviews(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body ReviewBody
	if err := decodeBody(w, r, &body); err != nil {
		writeErr(w, err)
		return
	}
	review, err := s.market.SubmitReview(r.Context(), callerFrom(r), body.Reviewee, ratingFrom(body.Rating), body.Comment, body.TaskID)
	if err != nil {
		writeErr(w, err)
		return
	}
	JSON(w, http.StatusCreated, review)
}

// handleReputation serves /reputation/{account}[/history|/reviews|/slash].
// @Summary Reputation of an account
// @Tags Reputation
// @Produce json
// @Param account path string true "account"
// @Success 200 {object} marketplace.ReputationRecord
// @Router /api/marketplace/reputation/{account} [get]
func (s *Server) handleReputation(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/marketplace/reputation"), "/")
	parts := strings.Split(path, "/")
	acct := parts[0]
	if acct == "" {
		Error(w, http.StatusNotFound, "account required")
		return
	}
	sub := ""
	if len(parts) > 1 {
		sub = parts[1]
	}
	ctx := r.Context()

	if r.Method == http.MethodPost && sub == "slash" {
		var body SlashBody
		if err := decodeBody(w, r, &body); err != nil {
			writeErr(w, err)
			return
		}
		score, err := s.market.SlashReputation(ctx, capabilityFrom(r), acct, body.Amount, body.Reason)
		if err != nil {
			writeErr(w, err)
			return
		}
		JSON(w, http.StatusOK, map[string]interface{}{"account": acct, "score": score})
		return
	}
	if r.Method != http.MethodGet {
		Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	switch sub {
	case "":
		rec, err := s.market.Reputation(ctx, acct)
		if err != nil {
			writeErr(w, err)
			return
		}
		JSON(w, http.StatusOK, rec)
	case "history":
		entries, err := s.market.History(ctx, acct)
		if err != nil {
			writeErr(w, err)
			return
		}
		JSON(w, http.StatusOK, map[string]interface{}{"account": acct, "history": entries})
	case "reviews":
		reviews, err := s.market.Reviews(ctx, acct)
		if err != nil {
			writeErr(w, err)
			return
		}
		JSON(w, http.StatusOK, map[string]interface{}{"account": acct, "reviews": reviews, "total": len(reviews)})
	default:
		Error(w, http.StatusNotFound, "unknown reputation resource")
	}
}

// handleAccounts serves balances and privileged deposits.
// @Summary Account balance
// @Tags Accounts
// @Produce json
// @Param account path string true "account"
// @Success 200 {object} marketplace.Balance
// @Router /api/marketplace/accounts/{account}/balance [get]
func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/marketplace/accounts"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" {
		Error(w, http.StatusNotFound, "expected /accounts/{account}/{balance|deposit}")
		return
	}
	acct, sub := parts[0], parts[1]
	switch {
	case r.Method == http.MethodGet && sub == "balance":
		bal, err := s.market.Balance(r.Context(), acct)
		if err != nil {
			writeErr(w, err)
			return
		}
		JSON(w, http.StatusOK, bal)
	case r.Method == http.MethodPost && sub == "deposit":
		var body DepositBody
		if err := decodeBody(w, r, &body); err != nil {
			writeErr(w, err)
			return
		}
		bal, err := s.market.Deposit(r.Context(), capabilityFrom(r), acct, body.Amount)
		if err != nil {
			writeErr(w, err)
			return
		}
		JSON(w, http.StatusOK, bal)
	default:
		Error(w, http.StatusNotFound, "unknown account resource")
	}
}

// handleAudit reports escrow accounting.
// @Summary Escrow audit
// @Tags Accounts
// @Produce json
// @Success 200 {object} marketplace.AuditReport
// @Failure 500 {object} marketplace.AuditReport
// @Router /api/marketplace/audit [get]
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	report, err := s.market.Audit(r.Context())
	if err != nil && len(report.Problems) == 0 {
		writeErr(w, err)
		return
	}
	status := http.StatusOK
	if len(report.Problems) > 0 {
		status = http.StatusInternalServerError
	}
	JSON(w, status, report)
}
