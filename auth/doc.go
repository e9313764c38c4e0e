// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package auth provides identifiers, bearer tokens, webhook tokens and
encryption of secrets at rest.

# Bearer Tokens

User tokens use HMAC-SHA256 over the user ID:

	token := auth.GenerateToken(userID, secret)
	userID, err := auth.ParseToken(token, secret)

The token is "<userID>.<hex signature>". Since it's deterministic, it can be
re-issued at any time and is never stored in the database.

# Webhook Tokens

Each system gets one webhook path token derived from its ID:

	token := auth.WebhookToken(systemID, webhookSecret)

Plugs post events to /api/webhooks/{systemId}/{token}.

# Sealed Secrets

Shelly cloud tokens are encrypted with NaCl secretbox before they are
written:

	s := auth.NewSealer(key)
	sealed, err := s.Seal(token)
	plain, err := s.Open(sealed)

A fresh random nonce is prepended to every box.

# ID Generation

Database records use random UUIDs:

	id := auth.NewID()
*/
package auth
