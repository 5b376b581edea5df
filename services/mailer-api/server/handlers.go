package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mkrasnov/autosend/internal/dispatch"
	"github.com/mkrasnov/autosend/internal/mailing"
	"github.com/mkrasnov/autosend/internal/report"
	"github.com/mkrasnov/autosend/internal/store"
	"github.com/mkrasnov/autosend/pkg/logx"
)

type storeAPI interface {
	InsertRecipient(ctx context.Context, r *mailing.Recipient) error
	UpdateRecipient(ctx context.Context, r *mailing.Recipient) error
	DeleteRecipient(ctx context.Context, id int64, owner string) error
	ListRecipients(ctx context.Context, owner string, viewAll bool) ([]mailing.Recipient, error)

	InsertMessage(ctx context.Context, m *mailing.Message) error
	UpdateMessage(ctx context.Context, m *mailing.Message) error
	ListMessages(ctx context.Context, owner string, viewAll bool) ([]mailing.Message, error)

	InsertMailing(ctx context.Context, m *mailing.Mailing, recipientIDs []int64) error
	GetMailing(ctx context.Context, id int64) (mailing.Mailing, error)
	ListMailings(ctx context.Context, owner string, viewAll bool) ([]mailing.Mailing, error)
	DisableMailing(ctx context.Context, id int64) error
}

type dispatcherAPI interface {
	Dispatch(ctx context.Context, mailingID int64, actor string, dryRun bool) (dispatch.Result, error)
}

type reporterAPI interface {
	StatsFor(ctx context.Context, mailingID int64) (mailing.Stats, error)
	StatsForViewer(ctx context.Context, v report.Viewer, period time.Duration) ([]mailing.Stats, error)
}

type Handlers struct {
	Store    storeAPI
	Engine   dispatcherAPI
	Reporter reporterAPI
}

func NewHandlers(st *store.Store, eng *dispatch.Engine, rep *report.Aggregator) *Handlers {
	return &Handlers{Store: st, Engine: eng, Reporter: rep}
}

func (h *Handlers) Healthz(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// ---- recipients ----

type recipientReq struct {
	Email   string `json:"email"   binding:"required,email"`
	Name    string `json:"name"    binding:"required"`
	Comment string `json:"comment"`
}

func (h *Handlers) CreateRecipient(c *gin.Context) {
	var req recipientReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	r := mailing.Recipient{
		OwnerEmail: actorFrom(c).Email,
		Email:      req.Email,
		Name:       req.Name,
		Comment:    req.Comment,
	}
	if err := h.Store.InsertRecipient(ctx, &r); err != nil {
		logx.L().Errorw("recipient_insert_error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store error"})
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (h *Handlers) ListRecipients(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	actor := actorFrom(c)
	out, err := h.Store.ListRecipients(ctx, actor.Email, actor.Manager)
	if err != nil {
		logx.L().Errorw("recipient_list_error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store error"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) UpdateRecipient(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req recipientReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	r := mailing.Recipient{
		ID:         id,
		OwnerEmail: actorFrom(c).Email,
		Email:      req.Email,
		Name:       req.Name,
		Comment:    req.Comment,
	}
	if err := h.Store.UpdateRecipient(ctx, &r); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *Handlers) DeleteRecipient(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := h.Store.DeleteRecipient(ctx, id, actorFrom(c).Email); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// ---- messages ----

type messageReq struct {
	Subject string `json:"subject" binding:"required"`
	Body    string `json:"body"    binding:"required"`
}

func (h *Handlers) CreateMessage(c *gin.Context) {
	var req messageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	m := mailing.Message{OwnerEmail: actorFrom(c).Email, Subject: req.Subject, Body: req.Body}
	if err := h.Store.InsertMessage(ctx, &m); err != nil {
		logx.L().Errorw("message_insert_error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store error"})
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (h *Handlers) ListMessages(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	actor := actorFrom(c)
	out, err := h.Store.ListMessages(ctx, actor.Email, actor.Manager)
	if err != nil {
		logx.L().Errorw("message_list_error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store error"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) UpdateMessage(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req messageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	m := mailing.Message{ID: id, OwnerEmail: actorFrom(c).Email, Subject: req.Subject, Body: req.Body}
	err := h.Store.UpdateMessage(ctx, &m)
	switch {
	case errors.Is(err, store.ErrMessageLocked):
		c.JSON(http.StatusConflict, gin.H{"error": "message already used by a started mailing"})
	case err != nil:
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, m)
	}
}

// ---- mailings ----

type createMailingReq struct {
	MessageID    int64      `json:"message_id"    binding:"required"`
	RecipientIDs []int64    `json:"recipient_ids" binding:"required,min=1"`
	StartAt      time.Time  `json:"start_at"      binding:"required"`
	EndAt        *time.Time `json:"end_at"`
}

func (h *Handlers) CreateMailing(c *gin.Context) {
	var req createMailingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.EndAt != nil && req.EndAt.Before(req.StartAt) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end_at must not precede start_at"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	m := mailing.Mailing{
		OwnerEmail: actorFrom(c).Email,
		MessageID:  req.MessageID,
		StartAt:    req.StartAt,
		EndAt:      req.EndAt,
	}
	if err := h.Store.InsertMailing(ctx, &m, req.RecipientIDs); err != nil {
		logx.L().Errorw("mailing_insert_error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store error"})
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (h *Handlers) ListMailings(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	actor := actorFrom(c)
	out, err := h.Store.ListMailings(ctx, actor.Email, actor.Manager)
	if err != nil {
		logx.L().Errorw("mailing_list_error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store error"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) GetMailing(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	m, err := h.Store.GetMailing(ctx, id)
	if errors.Is(err, store.ErrMailingNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "mailing not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store error"})
		return
	}
	c.JSON(http.StatusOK, m)
}

// DispatchMailing triggers one manual run and returns its summary.
func (h *Handlers) DispatchMailing(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	dryRun := c.Query("dry_run") == "1" || c.Query("dry_run") == "true"

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Minute)
	defer cancel()

	actor := actorFrom(c).Email
	if actor == "" {
		actor = "api"
	}

	res, err := h.Engine.Dispatch(ctx, id, actor, dryRun)
	switch {
	case errors.Is(err, store.ErrMailingNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "mailing not found"})
	case errors.Is(err, store.ErrMailingDisabled):
		c.JSON(http.StatusConflict, gin.H{"error": "mailing is disabled"})
	case err != nil:
		logx.L().Errorw("dispatch_error", "mailing_id", id, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "dispatch failed", "partial": res})
	default:
		c.JSON(http.StatusOK, res)
	}
}

// DisableMailing is the manager's forced stop.
func (h *Handlers) DisableMailing(c *gin.Context) {
	if !actorFrom(c).Manager {
		c.JSON(http.StatusForbidden, gin.H{"error": "manager role required"})
		return
	}
	id, ok := idParam(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := h.Store.DisableMailing(ctx, id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// ---- reports ----

func (h *Handlers) MailingStats(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	st, err := h.Reporter.StatsFor(ctx, id)
	if errors.Is(err, store.ErrMailingNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "mailing not found"})
		return
	}
	if err != nil {
		logx.L().Errorw("stats_error", "mailing_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats error"})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handlers) OwnerReport(c *gin.Context) {
	var period time.Duration
	if raw := c.Query("period"); raw != "" {
		p, err := time.ParseDuration(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid period"})
			return
		}
		period = p
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	actor := actorFrom(c)
	out, err := h.Reporter.StatsForViewer(ctx, report.Viewer{Email: actor.Email, Manager: actor.Manager}, period)
	if err != nil {
		logx.L().Errorw("report_error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "report error"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}
