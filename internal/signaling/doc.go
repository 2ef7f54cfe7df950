// Package signaling contains the WebSocket signaling surface: the wire
// protocol, the room-aware message relay and the connection server.
//
// The relay is deliberately payload-blind. SDP offers, answers and ICE
// candidates pass through byte for byte; only routing metadata is read.
package signaling
