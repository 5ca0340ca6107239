// Package transport exposes a server.Service over HTTP and websockets.
//
// Routes:
//
//	GET /healthz           liveness probe
//	GET /stats             service counters as JSON
//	GET /report/{player}   compliance report (?format=text for plain text)
//	GET /ws?player=ID      websocket session for one player
//
// A session speaks JSON messages. Clients send:
//
//	{"type":"operation","operation":{...},"queued":false}
//	{"type":"ack","owner":"p1","version":7}
//	{"type":"ping","ping_ms":40,"packet_loss":0.01}
//	{"type":"observe","owner":"p2"}
//
// and receive "result", "replication", "pong" and "error" messages.
// Operations run synchronously unless queued, in which case the result
// arrives with the next tick. Replication payloads are pushed by
// Hub.Dispatch, which is meant to be the service's tick handler.
//
// Thread-safety: Hub is safe for concurrent use. Each session owns one
// reader and one writer goroutine.
package transport
