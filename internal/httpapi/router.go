package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/relaypos/edgehub/internal/auth"
)

// Routes builds the terminal-facing router. Public routes (health, login,
// websocket upgrade) sit outside the session middleware; sync controls
// additionally require the admin token.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.AllowAll().Handler)

	// Public
	r.Get("/health", s.Health)
	r.Post("/api/auth/login", s.Login)
	r.Post("/api/auth/admin-token", s.AdminToken)
	r.Get("/ws", s.ServeWS)

	// Session-protected terminal surface
	r.Group(func(r chi.Router) {
		r.Use(auth.SessionRequired(s.Store))

		r.Post("/api/auth/logout", s.Logout)

		r.Post("/api/sales", s.CreateSale)
		r.Get("/api/sales", s.ListSales)
		r.Get("/api/sales/{id}", s.GetSale)
		r.Post("/api/sales/{id}/void", s.VoidSale)

		r.Post("/api/kitchen-orders", s.CreateKitchenOrder)
		r.Get("/api/kitchen-orders", s.ListKitchenOrders)
		r.Post("/api/kitchen-orders/{id}/bump", s.BumpKitchenOrder)
		r.Post("/api/kitchen-orders/{id}/status", s.SetKitchenOrderStatus)

		r.Post("/api/cash-drawers/open", s.OpenDrawer)
		r.Post("/api/cash-drawers/{id}/close", s.CloseDrawer)
		r.Post("/api/cash-drawers/{id}/transactions", s.AddDrawerTransaction)

		r.Post("/api/shifts/clock-in", s.ClockIn)
		r.Post("/api/shifts/{id}/clock-out", s.ClockOut)
		r.Post("/api/shifts/{id}/breaks", s.StartBreak)
		r.Post("/api/shifts/{id}/breaks/end", s.EndBreak)

		r.Post("/api/refunds", s.CreateRefund)

		r.Get("/api/tables", s.ListTables)
		r.Post("/api/tables/{id}/session", s.OpenTableSession)
		r.Post("/api/tables/{id}/close", s.CloseTableSession)

		r.Get("/api/products", s.ListProducts)
		r.Get("/api/categories", s.ListCategories)
		r.Get("/api/deals", s.ListDeals)
		r.Get("/api/customers", s.ListCustomers)

		r.Get("/api/terminals", s.ListTerminals)
		r.Post("/api/terminals/register", s.RegisterTerminal)

		r.Get("/api/sync/status", s.SyncStatus)
		r.Get("/api/diagnostics", s.Diagnostics)
	})

	// Administrative sync and setup controls
	r.Group(func(r chi.Router) {
		r.Use(auth.AdminRequired(s.Cfg.Snapshot().HubSecret))

		r.Post("/api/sync/pull", s.TriggerPull)
		r.Post("/api/sync/push", s.TriggerPush)
		r.Post("/api/sync/retry-dead-letters", s.RetryDeadLetters)
		r.Post("/api/sync/reset", s.ResetSync)

		r.Post("/api/setup/register", s.SetupRegister)
		r.Post("/api/setup/pair", s.SetupPairInit)
		r.Get("/api/setup/pair/{code}", s.SetupPairStatus)
	})

	log.Info().Msg("HTTP routes registered")
	return r
}
