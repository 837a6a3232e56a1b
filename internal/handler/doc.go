// Package handler turns one inbound packet into one response packet.
//
// Every packet type has a Handler. The Dispatcher runs the checks shared by
// all of them (empty payload, unknown sender, activity refresh), invokes the
// handler with panics recovered, and always produces an ACK, a typed
// response, or an ERROR.
package handler
