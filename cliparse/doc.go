// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package cliparse loads and validates the server configuration.

	cfg, err := cliparse.Load(os.Args[1:])

Commands built with cobra declare the same flags through NewFlagSet and
call LoadFlags on their parsed set.

# Precedence

Later sources win:

 1. defaults
 2. the YAML file named by --config
 3. .env (never overrides variables already set)
 4. PORT, DATABASE_URL and DATABASE_TYPE
 5. WEEKCAL_* variables
 6. flags the caller set explicitly

# Validation

Load fails when the database URL, the token secret or the webhook secret
is missing, when the encryption key is not 32 hex-encoded bytes, or when
the database type or log format is unknown.
*/
package cliparse
