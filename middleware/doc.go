// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package middleware provides HTTP middleware and helper functions.

# Request Logging

	mux.HandleFunc("GET /health", middleware.WithLogging(log, handler))

Every request gets a request ID (kept from the X-Request-ID header when
present) that is attached to the context logger and echoed back.

# Authentication

RequireAuth resolves the bearer token to a Principal and stores it in the
request context. RequireRole rejects principals without the given role.

	p, ok := middleware.PrincipalFrom(r.Context())

Browsers cannot set headers on WebSocket upgrades, so BearerToken also
accepts a token query parameter.

# JSON Helpers

	middleware.JSONResponse(w, http.StatusOK, data)
	middleware.ErrorResponse(w, http.StatusBadRequest, "message")

	var req models.CreateLeadRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
*/
package middleware
