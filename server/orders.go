package server

import (
	"encoding/json"
	"errors"
	"io"
	"maps"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

// Order is a free-form JSON object. The store owns the "id" field.
type Order map[string]any

// OrderStore keeps orders in insertion order.
type OrderStore interface {
	List() []Order
	Create(Order) Order
}

// MemoryOrderStore is a process-local OrderStore safe for concurrent use.
type MemoryOrderStore struct {
	mu     sync.RWMutex
	orders []Order
}

// NewMemoryOrderStore returns an empty store.
func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{}
}

// List returns copies of every stored order.
func (s *MemoryOrderStore) List() []Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, maps.Clone(o))
	}
	return out
}

// Create assigns a fresh id, stores the order and returns the stored copy.
func (s *MemoryOrderStore) Create(o Order) Order {
	stored := maps.Clone(o)
	if stored == nil {
		stored = Order{}
	}
	stored["id"] = uuid.NewString()

	s.mu.Lock()
	s.orders = append(s.orders, stored)
	s.mu.Unlock()
	return maps.Clone(stored)
}

const maxOrderBody = 1 << 20

var errNotObject = errors.New("request body must be a JSON object")

func (a *App) handleListOrders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Orders.List())
}

func (a *App) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	order, err := decodeOrder(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	stored := a.Orders.Create(order)
	a.Logger.Debug("order created", "id", stored["id"], "request_id", RequestIDFromContext(r.Context()))
	writeJSON(w, http.StatusCreated, stored)
}

func decodeOrder(body io.Reader) (Order, error) {
	dec := json.NewDecoder(io.LimitReader(body, maxOrderBody))
	var order Order
	if err := dec.Decode(&order); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errNotObject
		}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, errNotObject
		}
		return nil, errors.New("request body is not valid JSON")
	}
	if order == nil {
		return nil, errNotObject
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("request body must contain a single JSON object")
	}
	return order, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, desc string) {
	writeJSON(w, status, map[string]string{"error": code, "error_description": desc})
}
