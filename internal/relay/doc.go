// Package relay is the message-relay correlation engine.
//
// Inbound user messages pass the ban gate, are forwarded to the operators
// (each operator privately, or one shared group depending on the mode), and
// every forwarded copy is recorded as a correlation back to its sender. An
// operator replying to a copy is resolved through that correlation and the
// reply is delivered to the sender. Broadcasts fan out to every non-banned
// user on bounded workers.
//
// Locks guard only map and registry mutations. Sends happen outside them.
package relay
