// Package httputil holds the JSON response and request-decoding helpers the
// API handlers share, so every endpoint answers with the same error envelope.
package httputil
