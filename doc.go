// Package sockexchange relays channel messages between game servers.
//
// A broker (package server) accepts TCP connections from endpoints (package
// client). Endpoints register under a server name and then publish to
// channel subscribers, send to named servers or to the broker, and make
// requests whose responses are routed back to them. The broker keeps every
// endpoint informed of the known servers and of the players online on each.
package sockexchange
