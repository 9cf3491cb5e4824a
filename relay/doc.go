// Package relay talks to the rendezvous service that receives OAuth redirects
// and holds authorization codes keyed by state until the broker collects them.
package relay
