package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bidwire/bidwire/store"
)

// InspectionHandler serves read-only JSON views of the engine's state.
type InspectionHandler struct {
	store store.Store
	log   *slog.Logger
}

func NewInspectionHandler(st store.Store, log *slog.Logger) *InspectionHandler {
	if log == nil {
		log = slog.Default()
	}
	return &InspectionHandler{store: st, log: log}
}

func (h *InspectionHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/accounts", h.handleAccounts)
	r.Get("/api/auctions", h.handleAuctions)
	r.Get("/api/subscriptions/{item}", h.handleSubscriptions)
}

// auctionView adds the derived countdown to the stored record.
type auctionView struct {
	*store.Auction
	MinutesLeft int64 `json:"minutes_left"`
}

func (h *InspectionHandler) handleAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.store.Accounts().All()
	if err != nil {
		h.serveError(w, "listing accounts", err)
		return
	}
	h.serveJSON(w, accounts)
}

func (h *InspectionHandler) handleAuctions(w http.ResponseWriter, r *http.Request) {
	auctions, err := h.store.Auctions().All()
	if err != nil {
		h.serveError(w, "listing auctions", err)
		return
	}
	now := time.Now()
	views := make([]auctionView, 0, len(auctions))
	for _, a := range auctions {
		views = append(views, auctionView{Auction: a, MinutesLeft: a.MinutesLeft(now)})
	}
	h.serveJSON(w, views)
}

func (h *InspectionHandler) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	item := chi.URLParam(r, "item")
	subscribers, err := h.store.Subscriptions().Subscribers(item)
	if err != nil {
		h.serveError(w, "listing subscribers", err)
		return
	}
	if subscribers == nil {
		subscribers = []string{}
	}
	h.serveJSON(w, map[string]any{"item": item, "subscribers": subscribers})
}

func (h *InspectionHandler) serveJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("encoding response failed", "err", err)
	}
}

func (h *InspectionHandler) serveError(w http.ResponseWriter, what string, err error) {
	h.log.Error(what+" failed", "err", err)
	w.WriteHeader(http.StatusInternalServerError)
	w.Write([]byte(`{"error":"internal error"}`))
}
