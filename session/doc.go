/*
Package session implements the live push channel between the server and connected dashboards.

Each connected client gets a Session. A client asks for work by sending a request message, and the server streams
the resulting process output back as "cmd-output" messages, addressed only to the session that asked:

	client -> server  {"event": "run-live", "cid": "build"}
	client -> server  {"event": "pm2-live", "name": "api", "action": "restart"}
	server -> client  {"event": "cmd-output", "chunk": "> Starting: Build...\n", "kind": "start", "id": "..."}
	server -> client  {"event": "refresh-data"}

Only "event" and "chunk" are needed to render output; "kind", "id" and "exitCode" let programmatic clients tell
invocations apart and find where each one ends.

When a lifecycle action (pm2-live) exits, the Broker reports it through Broker.ActionDone. The websocket Server uses
that hook to send "refresh-data" to every connected session, so all dashboards re-pull their snapshot.

Invocations are not tied to the session that started them. If the client disconnects, the process keeps running
and the rest of its output is dropped.

The protocol is JSON text frames over a WebSocket, so it only requires an HTTP server.
*/
package session
