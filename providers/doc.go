// Package providers holds the token endpoint client and the built-in service
// catalog.
package providers
