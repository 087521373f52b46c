// Package network implements the framed binary wire protocol shared by the
// TCP and WebSocket transports.
//
// Every frame starts with a fixed 16-byte big-endian header:
//
//	+---------+------+-------+----------+-----------+
//	| version | type | flags |    id    |  length   |
//	|   u8    |  u8  |  u16  |   u64    |    u32    |
//	+---------+------+-------+----------+-----------+
//
// followed by length bytes of payload. Request and response payloads are
// msgpack envelopes. Responses carry the id of the request they answer, so
// many calls can be in flight on one connection.
package network
