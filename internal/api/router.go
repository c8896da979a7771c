package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires all routes under /api/v1 plus the operational endpoints.
func NewRouter(h *Handler, logger *slog.Logger) http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(func(next http.Handler) http.Handler { return instrument(logger, next) })

	v1.HandleFunc("/users", h.CreateUser).Methods("POST")
	v1.HandleFunc("/users", h.ListUsers).Methods("GET")
	v1.HandleFunc("/users/{id}", h.GetUser).Methods("GET")
	v1.HandleFunc("/users/{id}", h.DeleteUser).Methods("DELETE")

	v1.HandleFunc("/accounts", h.CreateAccount).Methods("POST")
	v1.HandleFunc("/accounts", h.ListAccounts).Methods("GET")
	v1.HandleFunc("/accounts/{id}", h.GetAccount).Methods("GET")
	v1.HandleFunc("/accounts/{id}", h.DeleteAccount).Methods("DELETE")

	v1.HandleFunc("/payments", h.CreatePayment).Methods("POST")
	v1.HandleFunc("/payments", h.ListPayments).Methods("GET")
	v1.HandleFunc("/payments/{id}", h.GetPayment).Methods("GET")
	v1.HandleFunc("/payments/{id}", h.DeletePayment).Methods("DELETE")

	return r
}
