// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package router

import (
	"database/sql"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/casblasvic/weekly-calendar-sub018/cliparse"
	"github.com/casblasvic/weekly-calendar-sub018/energy"
	"github.com/casblasvic/weekly-calendar-sub018/handlers"
	"github.com/casblasvic/weekly-calendar-sub018/logging"
	"github.com/casblasvic/weekly-calendar-sub018/middleware"
	"github.com/casblasvic/weekly-calendar-sub018/realtime"
	"github.com/casblasvic/weekly-calendar-sub018/shelly"
)

// Deps are the long-lived components the handlers share.
type Deps struct {
	Log *logging.Logger
	Hub *realtime.Hub
	// Pub receives every event; usually the hub plus NATS.
	Pub    realtime.Publisher
	Store  *shelly.SQLStore
	Shelly *shelly.Manager
	Energy *energy.Service
}

// Router is the API mux. Wait blocks until background device commands
// started by requests have finished.
type Router struct {
	*http.ServeMux
	appointments *handlers.AppointmentHandler
}

func (rt *Router) Wait() {
	rt.appointments.Wait()
}

func NewRouter(db *sql.DB, cfg cliparse.Config, deps Deps) *Router {
	mux := http.NewServeMux()
	log := deps.Log

	// public wraps logging only; authed adds the bearer token check and
	// admin also requires the admin role.
	public := func(h http.HandlerFunc) http.HandlerFunc {
		return middleware.WithLogging(log, h)
	}
	authed := func(h http.HandlerFunc) http.HandlerFunc {
		return public(middleware.RequireAuth(db, cfg.TokenSecret, h))
	}
	admin := func(h http.HandlerFunc) http.HandlerFunc {
		return authed(middleware.RequireRole(middleware.RoleAdmin, h))
	}

	device := handlers.DeviceDeps{Store: deps.Store, Plugs: deps.Shelly, Energy: deps.Energy, Pub: deps.Pub}

	tenancy := handlers.NewTenancyHandler(db, cfg)
	catalog := handlers.NewCatalogHandler(db, cfg)
	equipment := handlers.NewEquipmentHandler(db, cfg)
	shellyHandler := handlers.NewShellyHandler(db, cfg, deps.Store, deps.Shelly)
	appointments := handlers.NewAppointmentHandler(db, cfg, device)
	webhooks := handlers.NewWebhookHandler(db, cfg, device)
	sockets := handlers.NewWebsocketHandler(db, cfg, deps.Shelly, deps.Hub)
	stream := handlers.NewRealtimeHandler(deps.Hub)
	billing := handlers.NewBillingHandler(db, cfg)
	accounting := handlers.NewAccountingHandler(db, cfg)
	crm := handlers.NewCRMHandler(db, cfg)
	energyHandler := handlers.NewEnergyHandler(db, cfg, deps.Energy)

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	// Tenancy
	mux.HandleFunc("POST /api/systems", public(tenancy.CreateSystem))
	mux.HandleFunc("POST /api/users", admin(tenancy.CreateUser))
	mux.HandleFunc("GET /api/me", authed(tenancy.Me))
	mux.HandleFunc("PUT /api/modules/{code}", admin(tenancy.SetModule))

	// Catalog
	mux.HandleFunc("POST /api/legal-entities", admin(catalog.CreateLegalEntity))
	mux.HandleFunc("GET /api/legal-entities", authed(catalog.ListLegalEntities))
	mux.HandleFunc("GET /api/legal-entities/{id}", authed(catalog.GetLegalEntity))
	mux.HandleFunc("POST /api/clinics", admin(catalog.CreateClinic))
	mux.HandleFunc("GET /api/clinics", authed(catalog.ListClinics))
	mux.HandleFunc("GET /api/clinics/{id}", authed(catalog.GetClinic))
	mux.HandleFunc("POST /api/clinics/{id}/cabins", admin(catalog.CreateCabin))
	mux.HandleFunc("POST /api/persons", authed(catalog.CreatePerson))
	mux.HandleFunc("GET /api/persons", authed(catalog.ListPersons))
	mux.HandleFunc("GET /api/persons/{id}", authed(catalog.GetPerson))
	mux.HandleFunc("POST /api/categories", admin(catalog.CreateCategory))
	mux.HandleFunc("GET /api/categories", authed(catalog.ListCategories))
	mux.HandleFunc("POST /api/services", admin(catalog.CreateService))
	mux.HandleFunc("GET /api/services", authed(catalog.ListServices))
	mux.HandleFunc("GET /api/services/{id}", authed(catalog.GetService))
	mux.HandleFunc("POST /api/services/{id}/equipment", admin(equipment.AddRequirement))
	mux.HandleFunc("POST /api/products", admin(catalog.CreateProduct))
	mux.HandleFunc("GET /api/products", authed(catalog.ListProducts))
	mux.HandleFunc("POST /api/vat-types", admin(catalog.CreateVATType))
	mux.HandleFunc("GET /api/vat-types", authed(catalog.ListVATTypes))
	mux.HandleFunc("POST /api/promotions", admin(catalog.CreatePromotion))
	mux.HandleFunc("GET /api/promotions", authed(catalog.ListPromotions))

	// Equipment
	mux.HandleFunc("POST /api/equipment", admin(equipment.CreateEquipment))
	mux.HandleFunc("GET /api/equipment", authed(equipment.ListEquipment))
	mux.HandleFunc("GET /api/equipment/{id}", authed(equipment.GetEquipment))
	mux.HandleFunc("POST /api/equipment/{id}/assignments", admin(equipment.CreateAssignment))

	// Shelly cloud
	mux.HandleFunc("POST /api/shelly/credentials", admin(shellyHandler.CreateCredential))
	mux.HandleFunc("GET /api/shelly/credentials", authed(shellyHandler.ListCredentials))
	mux.HandleFunc("POST /api/shelly/credentials/{id}/sync", authed(shellyHandler.SyncCredential))
	mux.HandleFunc("POST /api/shelly/devices", admin(shellyHandler.RegisterDevice))
	mux.HandleFunc("GET /api/shelly/devices", authed(shellyHandler.ListDevices))
	mux.HandleFunc("POST /api/shelly/devices/{id}/control", authed(shellyHandler.ControlDevice))
	mux.HandleFunc("PUT /api/shelly/devices/{id}/name", authed(shellyHandler.RenameDevice))

	// Appointments and timers
	mux.HandleFunc("POST /api/appointments", authed(appointments.CreateAppointment))
	mux.HandleFunc("GET /api/appointments", authed(appointments.ListAppointments))
	mux.HandleFunc("GET /api/appointments/{id}", authed(appointments.GetAppointment))
	mux.HandleFunc("DELETE /api/appointments/{id}", authed(appointments.CancelAppointment))
	mux.HandleFunc("POST /api/appointments/{id}/start", authed(appointments.StartAppointment))
	mux.HandleFunc("POST /api/appointments/{id}/assign-device", authed(appointments.AssignDevice))
	mux.HandleFunc("GET /api/appointments/{id}/timer", authed(appointments.GetTimer))
	mux.HandleFunc("POST /api/appointments/{id}/timer/pause", authed(appointments.PauseTimer))
	mux.HandleFunc("POST /api/appointments/{id}/timer/resume", authed(appointments.ResumeTimer))
	mux.HandleFunc("POST /api/appointments/{id}/timer/finish", authed(appointments.FinishTimer))

	// Plug webhooks authenticate with the path token
	mux.HandleFunc("POST /api/webhooks/{systemId}/{token}", public(webhooks.Receive))

	// Connection registry and the browser event stream
	mux.HandleFunc("GET /api/websocket/connections", authed(sockets.ListConnections))
	mux.HandleFunc("GET /api/websocket/stats", authed(sockets.Stats))
	mux.HandleFunc("GET /api/websocket/connections/{id}/logs", authed(sockets.ConnectionLogs))
	mux.HandleFunc("POST /api/websocket/connections/{id}/{action}", admin(sockets.ConnectionAction))
	mux.HandleFunc("POST /api/websocket/cleanup", admin(sockets.Cleanup))
	mux.HandleFunc("GET /api/realtime", authed(stream.Stream))

	// Billing
	mux.HandleFunc("POST /api/tickets", authed(billing.CreateTicket))
	mux.HandleFunc("GET /api/tickets", authed(billing.ListTickets))
	mux.HandleFunc("GET /api/tickets/{id}", authed(billing.GetTicket))
	mux.HandleFunc("POST /api/tickets/{id}/payments", authed(billing.AddPayment))
	mux.HandleFunc("POST /api/tickets/{id}/close", authed(billing.CloseTicket))
	mux.HandleFunc("POST /api/tickets/{id}/invoice", authed(billing.IssueInvoice))

	// Accounting
	mux.HandleFunc("POST /api/accounting/quick-setup", admin(accounting.QuickSetup))
	mux.HandleFunc("POST /api/accounting/auto-map", admin(accounting.AutoMap))
	mux.HandleFunc("GET /api/accounting/accounts", authed(accounting.ListAccounts))
	mux.HandleFunc("POST /api/accounting/accounts", admin(accounting.CreateAccount))
	mux.HandleFunc("POST /api/accounting/journal-entries", authed(accounting.CreateJournalEntry))
	mux.HandleFunc("GET /api/accounting/journal-entries", authed(accounting.ListJournalEntries))
	mux.HandleFunc("GET /api/accounting/journal-entries/{id}", authed(accounting.GetJournalEntry))
	mux.HandleFunc("POST /api/accounting/journal-entries/{id}/reverse", admin(accounting.ReverseJournalEntry))

	// CRM
	mux.HandleFunc("POST /api/leads", authed(crm.CreateLead))
	mux.HandleFunc("GET /api/leads", authed(crm.ListLeads))
	mux.HandleFunc("PUT /api/leads/{id}/status", authed(crm.UpdateLeadStatus))
	mux.HandleFunc("POST /api/leads/{id}/convert", authed(crm.ConvertLead))
	mux.HandleFunc("GET /api/opportunities", authed(crm.ListOpportunities))
	mux.HandleFunc("PUT /api/opportunities/{id}/stage", authed(crm.UpdateOpportunityStage))

	// Energy analysis
	mux.HandleFunc("GET /api/energy/insights", authed(energyHandler.ListInsights))
	mux.HandleFunc("POST /api/energy/insights/{id}/resolve", authed(energyHandler.ResolveInsight))
	mux.HandleFunc("GET /api/energy/profiles", authed(energyHandler.ListProfiles))
	mux.HandleFunc("GET /api/energy/anomaly-scores", authed(energyHandler.ListAnomalyScores))
	mux.HandleFunc("POST /api/energy/recalculate", admin(energyHandler.Recalculate))

	// Root endpoint
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("weekly-calendar API v1"))
	})

	return &Router{ServeMux: mux, appointments: appointments}
}
