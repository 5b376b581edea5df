package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mkrasnov/autosend/docs"
	"github.com/mkrasnov/autosend/pkg/metrics"
)

func NewHTTPServer(addr string, h *Handlers) *http.Server {
	r := gin.New()
	r.Use(gin.Recovery(), Observability())

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	r.POST("/recipients", h.CreateRecipient)
	r.GET("/recipients", h.ListRecipients)
	r.PUT("/recipients/:id", h.UpdateRecipient)
	r.DELETE("/recipients/:id", h.DeleteRecipient)

	r.POST("/messages", h.CreateMessage)
	r.GET("/messages", h.ListMessages)
	r.PUT("/messages/:id", h.UpdateMessage)

	r.POST("/mailings", h.CreateMailing)
	r.GET("/mailings", h.ListMailings)
	r.GET("/mailings/:id", h.GetMailing)
	r.POST("/mailings/:id/dispatch", h.DispatchMailing)
	r.POST("/mailings/:id/disable", h.DisableMailing)
	r.GET("/mailings/:id/stats", h.MailingStats)

	r.GET("/reports", h.OwnerReport)

	r.GET("/docs", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", docs.MailerSwaggerHTML)
	})
	r.GET("/docs/mailer-api/openapi.yaml", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/yaml", docs.MailerOpenAPI)
	})

	return &http.Server{
		Addr:    addr,
		Handler: r,
	}
}
