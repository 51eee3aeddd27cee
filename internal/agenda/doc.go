// Package agenda wraps the Google Tasks and Calendar APIs behind thin
// clients. A pair of clients is built per session, sharing one authenticated
// HTTP client, and torn down with the session.
package agenda
