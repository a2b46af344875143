/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package restapi contains helpers for JSON REST handlers: request decoding,
// JSON responses and errors in the {"error": {"domain", "code", "message"}} format.
package restapi
