// Package middleware provides the echo middleware of the ops API.
package middleware

type contextKey string
