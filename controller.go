package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-jose/go-jose/v4"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"mensageria_assinada/internal/hub"
	"mensageria_assinada/internal/identity"
)

type Controller struct {
	ctx      context.Context
	hub      *hub.Hub
	upgrader websocket.Upgrader
}

func NewController(ctx context.Context, h *hub.Hub, origins []string) *Controller {
	return &Controller{
		ctx: ctx,
		hub: h,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// Non-browser clients send no Origin.
				return origin == "" || lo.Contains(origins, "*") || lo.Contains(origins, origin)
			},
		},
	}
}

// Routes registers every endpoint on a new mux.
func (c *Controller) Routes(metrics http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", c.HandleWS)
	mux.HandleFunc("GET /lobby", c.HandleLobby)
	mux.HandleFunc("GET /health", c.HandleHealth)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	return mux
}

func (c *Controller) HandleWS(w http.ResponseWriter, r *http.Request) {
	if c.ctx.Err() != nil {
		c.writeError(w, http.StatusServiceUnavailable, "Server is shutting down", nil)
		return
	}

	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("upgrade failed", "error", err)
		return
	}

	c.hub.Connect(conn)
}

// HandleLobby lists the online users as a JWK set.
func (c *Controller) HandleLobby(w http.ResponseWriter, _ *http.Request) {
	keys := lo.Map(c.hub.Lobby(), func(pk identity.PublicKey, _ int) jose.JSONWebKey {
		return pk.JWK()
	})
	c.writeJSON(w, http.StatusOK, jose.JSONWebKeySet{Keys: keys})
}

func (c *Controller) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	c.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (c *Controller) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write json response", "error", err)
	}
}

func (c *Controller) writeError(w http.ResponseWriter, status int, message string, err error) {
	if err != nil {
		slog.Error(message, "error", err)
	}
	c.writeJSON(w, status, map[string]string{"error": message})
}
