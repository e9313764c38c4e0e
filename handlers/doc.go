// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package handlers contains the HTTP request handlers of the weekly-calendar
API.

# Handler Types

Each handler is a struct built from the database, the config and
whatever long-lived components it drives:

  - TenancyHandler: systems, users and module toggles
  - CatalogHandler: legal entities, clinics, cabins, persons, services,
    products, VAT types, promotions
  - EquipmentHandler: equipment, clinic units and service requirements
  - ShellyHandler: cloud credentials, plug registration, sync and control
  - AppointmentHandler: calendar, treatment start and usage timers
  - WebhookHandler: power events posted by plugs
  - WebsocketHandler: the connection registry
  - RealtimeHandler: the browser event stream
  - BillingHandler: tickets, payments and invoices
  - AccountingHandler: chart of accounts, auto-mapping and the journal
  - CRMHandler: leads and opportunities
  - EnergyHandler: insights, profiles and anomaly scores

Every query is scoped to the caller's system, taken from the Principal the
auth middleware stored in the context.

# Treatment Flow

	POST /api/appointments/{id}/start          usage opened, plug on
	POST /api/webhooks/{systemId}/{token}      power and energy samples
	POST /api/appointments/{id}/timer/pause    plug off, timer held
	POST /api/appointments/{id}/timer/finish   usage closed, plug off

Closing a usage hands it to the energy service, which records insights
when the measured duration or consumption strays from the profile.
Device commands run through the Shelly manager; when the caller does not
need the outcome they run in the background and AppointmentHandler.Wait
drains them.

# Posting

Closing a ticket posts a journal entry when the legal entity has a chart
of accounts. Catalog changes re-run the account auto-mapping.
*/
package handlers
