// Package livehttp exposes the reconciled state and the mutation entry points
// over HTTP. Handlers are thin: decode, delegate, map errors; all semantics
// live in store, mutate, ingest and reconcile.
package livehttp

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tradesync/internal/core"
	"tradesync/internal/ingest"
	"tradesync/internal/logger"
	"tradesync/internal/mutate"
	"tradesync/internal/reconcile"
	"tradesync/internal/store"
)

// Router wires the HTTP surface over the core components.
type Router struct {
	store      *store.Store
	controller *mutate.Controller
	scheduler  *reconcile.Scheduler
	ingester   *ingest.Ingester
}

// NewRouter builds the HTTP layer.
func NewRouter(st *store.Store, ctrl *mutate.Controller, sched *reconcile.Scheduler, ing *ingest.Ingester) *Router {
	return &Router{store: st, controller: ctrl, scheduler: sched, ingester: ing}
}

// Handler assembles the gin engine.
func (r *Router) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	api := engine.Group("/api")
	{
		api.GET("/health", r.health)

		api.GET("/positions", r.listPositions)
		api.GET("/positions/:id", r.getPosition)
		api.POST("/positions/:id/sltp", r.submitSlTp)
		api.POST("/positions/:id/close", r.closePosition)

		api.GET("/strategies", r.listStrategies)
		api.POST("/strategies/pause-all", r.bulkPauseAll)
		api.POST("/strategies/:id/pause", r.pauseResume)
		api.POST("/strategies/:id/active", r.toggleActive)
		api.POST("/strategies/:id/trade-mode", r.setTradeMode)

		api.GET("/mutations", r.listMutations)
		api.POST("/events", r.ingestEvent)
		api.POST("/refresh", r.refresh)
	}
	return engine
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func fail(c *gin.Context, err error) {
	var verr *core.ValidationError
	var terr *core.TransportError
	var berr *core.PartialBulkError
	switch {
	case errors.Is(err, core.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": err.Error()})
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
	case errors.As(err, &berr):
		failed := make(map[string]string, len(berr.Failed))
		for id, ferr := range berr.Failed {
			failed[id] = ferr.Error()
		}
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"error":   berr.Error(),
			"data":    gin.H{"total": berr.Total, "failed": failed},
		})
	case errors.As(err, &terr):
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
	}
}

func (r *Router) health(c *gin.Context) {
	ok(c, gin.H{"status": "ok"})
}

func (r *Router) listPositions(c *gin.Context) {
	switch c.DefaultQuery("status", "open") {
	case "open":
		ok(c, r.store.OpenPositions())
	case "all":
		ok(c, r.store.Positions())
	case "closed":
		closed := make([]*core.Position, 0)
		for _, pos := range r.store.Positions() {
			if !pos.IsOpen() {
				closed = append(closed, pos)
			}
		}
		ok(c, closed)
	default:
		fail(c, core.NewValidationError("status", "must be open, closed or all"))
	}
}

func (r *Router) getPosition(c *gin.Context) {
	ent, err := r.store.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	pos, isPos := ent.(*core.Position)
	if !isPos {
		fail(c, core.ErrNotFound)
		return
	}
	ok(c, pos)
}

func (r *Router) listStrategies(c *gin.Context) {
	ok(c, r.store.Strategies())
}

func (r *Router) submitSlTp(c *gin.Context) {
	var req mutate.SlTpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, core.NewValidationError("", "invalid request body: "+err.Error()))
		return
	}
	if err := r.controller.SubmitSlTp(c.Request.Context(), c.Param("id"), req); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

func (r *Router) closePosition(c *gin.Context) {
	if err := r.controller.ClosePosition(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

func (r *Router) pauseResume(c *gin.Context) {
	if err := r.controller.PauseResume(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

func (r *Router) toggleActive(c *gin.Context) {
	if err := r.controller.ToggleActive(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

func (r *Router) setTradeMode(c *gin.Context) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, core.NewValidationError(core.FieldTradeMode, "invalid request body: "+err.Error()))
		return
	}
	if err := r.controller.SetTradeMode(c.Request.Context(), c.Param("id"), core.TradeMode(req.Mode)); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

func (r *Router) bulkPauseAll(c *gin.Context) {
	if err := r.controller.BulkPauseAll(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

func (r *Router) listMutations(c *gin.Context) {
	ok(c, r.controller.Mutations())
}

// ingestEvent is the webhook twin of the websocket feed: same envelope, same
// validation, same store semantics.
func (r *Router) ingestEvent(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		fail(c, core.NewValidationError("", "reading body failed: "+err.Error()))
		return
	}
	evt, err := ingest.ParseEvent(raw)
	if err != nil {
		fail(c, core.NewValidationError("", err.Error()))
		return
	}
	if err := r.ingester.Apply(evt); err != nil {
		fail(c, core.NewValidationError("", err.Error()))
		return
	}
	ok(c, nil)
}

// refresh is the pull-to-refresh entry point: one synchronous snapshot pass.
func (r *Router) refresh(c *gin.Context) {
	if err := r.scheduler.Refresh(c.Request.Context()); err != nil {
		logger.Warnf("http: manual refresh failed: %v", err)
		fail(c, err)
		return
	}
	ok(c, nil)
}
