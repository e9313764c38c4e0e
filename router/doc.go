// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package router defines the HTTP routes of the weekly-calendar API.

	rt := router.NewRouter(db, cfg, router.Deps{...})
	defer rt.Wait()

Routes are wrapped at three levels: public (request logging only), authed
(bearer token) and admin (bearer token plus the admin role). Plug webhooks
are public and authenticate with the token in their path.

# Endpoints

	GET  /health, /metrics
	POST /api/systems                         public
	/api/users, /api/me, /api/modules/{code}  tenancy
	/api/legal-entities, /api/clinics, /api/persons, /api/categories,
	/api/services, /api/products, /api/vat-types, /api/promotions
	/api/equipment                            equipment and clinic units
	/api/shelly/...                           credentials and plugs
	/api/appointments/...                     calendar, start and timers
	/api/webhooks/{systemId}/{token}          plug events
	/api/websocket/...                        connection registry
	GET /api/realtime                         browser event stream
	/api/tickets/...                          billing
	/api/accounting/...                       chart of accounts and journal
	/api/leads, /api/opportunities            CRM
	/api/energy/...                           insights and profiles

Wait blocks until device commands started in the background by requests
have returned.
*/
package router
