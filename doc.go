// Package gateway is the HTTP surface of the MCP gateway.
//
// Handler routes the OAuth 2.0 endpoints (dynamic registration, authorize,
// token, revoke and discovery metadata), the browser login flow against the
// upstream identity provider, and the bearer-protected /mcp endpoint that is
// dispatched to the session registry.
//
// Example usage:
//
//	srv, _ := server.New(store, store, store, &server.Config{Issuer: issuer}, logger)
//	h, err := gateway.NewHandler(srv, sessionHandler, store, provider, &gateway.Config{
//	    SessionCookie: gateway.SessionCookieConfig{Secret: os.Getenv("SESSION_SECRET")},
//	}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer h.Stop()
//	http.ListenAndServe(":8080", h.Routes())
package gateway
