package web

import "net/http"

// NewMux wires the ceremony routes into a fresh mux.
//
// Method-qualified patterns let the mux answer mismatched methods with
// 405 and an Allow header.
func NewMux(handler *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /register/options", handler.HandleRegisterOptions)
	mux.HandleFunc("POST /register/verify", handler.HandleRegisterVerify)
	mux.HandleFunc("GET /auth/options/quick", handler.HandleAuthOptionsQuick)
	mux.HandleFunc("POST /auth/verify", handler.HandleAuthVerify)
	mux.HandleFunc("POST /auth/login-after-register", handler.HandleLoginAfterRegister)
	mux.HandleFunc("GET /me", handler.HandleMe)
	mux.HandleFunc("GET /healthz", handler.HandleHealthz)
	return mux
}
