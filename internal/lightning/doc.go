// Package lightning is a REST client for the subset of the Lightning cloud
// API that creates, starts, and stops Studios (cloudspaces). Every call
// authenticates with the caller's user ID and API key; the client holds no
// session between calls and never retries.
package lightning
