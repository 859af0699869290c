package httpx

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"payrelay/internal/config"
	"payrelay/internal/domain/outcome"
	"payrelay/internal/http/handlers"
	middlewarex "payrelay/internal/http/middleware"
	"payrelay/internal/services/broadcast"
)

// RouterDependencies holds everything the HTTP surface talks to.
type RouterDependencies struct {
	Config     config.Cfg
	Payments   handlers.PaymentService
	TokenAdmin handlers.TokenAdmin
	Hub        *broadcast.Hub
	Guard      *middlewarex.Guard
}

func NewRouter(deps RouterDependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger)
	r.Use(chimw.Recoverer)

	r.Get("/", handlers.Root())
	r.Get("/health", handlers.Health(deps.Config.App.Env, deps.Hub.Len))
	r.Get("/ws/payments", handlers.Subscribe(deps.Hub))

	r.Route("/admin", func(r chi.Router) {
		r.Use(middlewarex.AdminAuth(deps.Config.Security.AdminToken))

		r.Post("/token/verify", handlers.VerifyToken(deps.TokenAdmin))
		r.Delete("/token", handlers.ClearToken(deps.TokenAdmin))
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Only the paths the guard protects are checked; callbacks pass through.
		r.Use(middlewarex.ReplayGuard(deps.Guard))

		r.Post("/stk-push/initiate", handlers.InitiateSTK(deps.Payments))
		r.Post("/stk-push/callback", handlers.Callback(deps.Payments, outcome.TypeSTKResult, "Callback received successfully"))

		r.Post("/b2c/payment", handlers.InitiateB2C(deps.Payments))
		r.Post("/b2c/result", handlers.Callback(deps.Payments, outcome.TypeB2CResult, "Result callback received successfully"))
		r.Post("/b2c/timeout", handlers.Callback(deps.Payments, outcome.TypeB2CTimeout, "Timeout callback received successfully"))
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		log.Info().
			Str("request_id", chimw.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
