package http

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aussiebroadwan/rollcall/internal/attendance/service"
	"github.com/aussiebroadwan/rollcall/internal/attendance/store"
	"github.com/aussiebroadwan/rollcall/internal/attendance/ws"
	"github.com/aussiebroadwan/rollcall/pkg/httpx"
	"github.com/aussiebroadwan/rollcall/pkg/jwtx"
	"github.com/aussiebroadwan/rollcall/pkg/slogx"

	_ "github.com/aussiebroadwan/rollcall/api/rollcall" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	keys         *jwtx.KeySet
	verifier     jwtx.Verifier
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store     store.Store
	QRService *service.QRService
	Hub       *ws.Hub
}

func NewRouter(
	keys *jwtx.KeySet,
	verifier jwtx.Verifier,
	buildVersion string,
	st store.Store,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		keys:         keys,
		verifier:     verifier,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		logger:       logger,
	}

	// Probes and scrapes are logged at debug.
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger, "/livez", "/readyz", "/metrics"),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerAttendance()
	r.registerRealtime()
	r.registerSystem()

	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			Rollcall Attendance API
//	@version		0.1.0
//	@description	QR attendance check-in service. Session managers issue short-lived QR codes, students scan them to check in, and both receive live updates over WebSocket.
//	@description
//	@description				Access tokens are EdDSA-signed JWTs and can be verified using the JWKS endpoint.
//
//	@contact.name				AussieBroadWAN Team
//	@contact.url				https://github.com/aussiebroadwan/rollcall
//
//	@license.name				MIT
//	@license.url				https://opensource.org/licenses/MIT
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@schemes					http https
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT access token. Format: "Bearer {token}".
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

// handle registers h under pattern and records its latency with the
// pattern's path as route label.
func (r *Router) handle(pattern string, h http.Handler) {
	route := pattern
	if _, path, ok := strings.Cut(pattern, " "); ok {
		route = path
	}
	r.Mux.Handle(pattern, instrument(route, h))
}

func (r *Router) registerAttendance() {
	h := &QRHandler{QRService: r.QRService}

	issue := func(fn http.HandlerFunc) http.Handler {
		return httpx.Chain(fn,
			httpx.AuthnMiddleware(r.verifier),
			httpx.RequireAnyScope(jwtx.ScopeIssue),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		)
	}

	r.handle("POST /attendance/generate-qr/", issue(h.HandleGenerate))
	r.handle("GET /attendance/qr-status/{session_id}/", issue(h.HandleStatus))
	r.handle("POST /attendance/revoke-qr/{session_id}/", issue(h.HandleRevoke))
	r.handle("GET /attendance/sessions/{session_id}/attendance/", issue(h.HandleList))

	// Check-ins are limited per student so a busy classroom sharing one
	// NAT address is not throttled as a whole.
	r.handle("POST /attendance/validate-qr/",
		httpx.Chain(http.HandlerFunc(h.HandleValidate),
			httpx.AuthnMiddleware(r.verifier),
			httpx.RequireAnyScope(jwtx.ScopeCheckin, jwtx.ScopeIssue),
			httpx.RateLimitByUser(httpx.CheckinLimit),
		),
	)
}

func (r *Router) registerRealtime() {
	// Browsers cannot set headers on a WebSocket handshake, so the token
	// travels as ?token=.
	for _, channel := range []string{"attendance", "notifications"} {
		r.Mux.Handle("GET /ws/"+channel+"/",
			httpx.Chain(r.Hub.Handler(channel),
				httpx.AuthnQueryMiddleware(r.verifier),
				httpx.RateLimitByIP(httpx.ModerateLimit),
			),
		)
	}
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store, r.keys),
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)
	r.Mux.Handle("GET /.well-known/jwks.json",
		httpx.Chain(JWKSHandler(r.keys),
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)
	r.Mux.Handle("GET /metrics", promhttp.Handler())
}
