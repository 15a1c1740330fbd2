// Package httpapi exposes the storefront, back-office and webhook endpoints.
package httpapi

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"labcart/internal/auth"
	"labcart/internal/gateway"
	"labcart/internal/observability"
	"labcart/internal/orders"
	"labcart/internal/realtime"
	"labcart/internal/webhook"
)

const actorKey = "labcart.actor"

// Deps bundles what the router needs.
type Deps struct {
	Service *orders.Service
	Ingest  *webhook.Ingest
	Auth    auth.Authenticator
	Hub     *realtime.Hub
	Metrics *observability.Metrics
	Logf    func(format string, args ...any)
}

// NewRouter wires all routes onto a gin engine.
func NewRouter(d Deps) *gin.Engine {
	if d.Logf == nil {
		d.Logf = log.Printf
	}

	r := gin.New()
	r.Use(gin.Recovery(), spanMiddleware(d.Metrics))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/api/orders", createOrder(d))
	r.GET("/api/orders/:id", getOrder(d))

	admin := r.Group("/api/orders", requireActor(d.Auth))
	admin.POST("/:id/dispatch", dispatchOrder(d))
	admin.POST("/:id/cancel", cancelOrder(d))
	admin.PATCH("/:id/notes", updateNotes(d))

	r.POST("/api/webhooks/payment", paymentWebhook(d))

	if d.Hub != nil {
		r.GET("/ws", requireActor(d.Auth), feedSocket(d))
	}

	return r
}

// spanMiddleware records latency and error counts per route.
func spanMiddleware(metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		span := metrics.Start(c.Request.Method + " " + path)
		c.Next()
		var err error
		if c.Writer.Status() >= http.StatusInternalServerError {
			err = errors.New("server error")
		}
		span.End(err)
	}
}

// requireActor authenticates the bearer token and stashes the actor on the
// request context.
func requireActor(authn auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		actor, err := authn.Authenticate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

func currentActor(c *gin.Context) auth.Actor {
	v, _ := c.Get(actorKey)
	actor, _ := v.(auth.Actor)
	return actor
}

type orderResponse struct {
	ID                 string              `json:"id"`
	State              string              `json:"state"`
	CustomerEmail      string              `json:"customer_email"`
	LineItems          []orders.LineItem   `json:"line_items,omitempty"`
	AmountDue          int64               `json:"amount_due"`
	ExternalPaymentRef string              `json:"external_payment_ref,omitempty"`
	ExternalChargeRef  string              `json:"external_charge_ref,omitempty"`
	DispatchMeta       *orders.DispatchMeta `json:"dispatch_meta,omitempty"`
	InternalNotes      string              `json:"internal_notes,omitempty"`
}

func toResponse(o orders.Order) orderResponse {
	return orderResponse{
		ID:                 o.ID,
		State:              string(o.State),
		CustomerEmail:      o.CustomerEmail,
		LineItems:          o.LineItems,
		AmountDue:          o.AmountDue,
		ExternalPaymentRef: o.ExternalPaymentRef,
		ExternalChargeRef:  o.ExternalChargeRef,
		DispatchMeta:       o.DispatchMeta,
		InternalNotes:      o.InternalNotes,
	}
}

// writeOrderError maps domain errors onto HTTP statuses.
func writeOrderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, orders.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, orders.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
	case errors.Is(err, orders.ErrIllegalTransition), errors.Is(err, orders.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func createOrder(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			CustomerEmail string               `json:"customer_email"`
			Items         []orders.ItemRequest `json:"items"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		order, redirectURL, err := d.Service.CreateOrder(c.Request.Context(), req.CustomerEmail, req.Items)
		if err != nil {
			if order.ID != "" {
				// The order persisted but checkout session creation failed; the
				// storefront shows the order and retries checkout.
				d.Logf("ERROR checkout session for order %s: %v", order.ID, err)
				c.JSON(http.StatusCreated, gin.H{"order": toResponse(order), "checkout_url": ""})
				return
			}
			writeOrderError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"order": toResponse(order), "checkout_url": redirectURL})
	}
}

func getOrder(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		order, err := d.Service.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeOrderError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"order": toResponse(order)})
	}
}

func dispatchOrder(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := currentActor(c)
		order, err := d.Service.Dispatch(c.Request.Context(), c.Param("id"), actor.ID)
		if err != nil {
			writeOrderError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"order": toResponse(order)})
	}
}

func cancelOrder(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := currentActor(c)
		order, err := d.Service.Cancel(c.Request.Context(), c.Param("id"), actor.ID)
		if err != nil {
			writeOrderError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"order": toResponse(order)})
	}
}

func updateNotes(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Notes string `json:"notes"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := d.Service.UpdateNotes(c.Request.Context(), c.Param("id"), req.Notes); err != nil {
			writeOrderError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "updated"})
	}
}

// paymentWebhook verifies and processes one processor delivery. Only a bad
// signature or a transient internal failure earns a non-2xx; every decided
// outcome is acknowledged so the processor stops redelivering.
func paymentWebhook(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}

		outcome, err := d.Ingest.Process(c.Request.Context(), body, c.GetHeader(gateway.SignatureHeader))
		if err != nil {
			if errors.Is(err, gateway.ErrSignatureInvalid) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
				return
			}
			d.Logf("ERROR webhook processing: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"outcome": string(outcome)})
	}
}

// feedSocket streams transition events to an authenticated back-office
// client. Events carry customer contact details, so the route sits behind the
// same token check as the admin endpoints.
func feedSocket(d Deps) gin.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		d.Hub.Register(conn)
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					d.Hub.Unregister(conn)
					return
				}
			}
		}()
	}
}
