/*
Package hub wires the catalog, process registry, prober, runner and live session broker into one HTTP server.

Routes:

	GET  /api/dashboard[?last_out=]   dashboard snapshot
	POST /api/pm2/:action/:name       run a lifecycle action and return its output
	POST /api/add                     save a command, {name, cmd, desc}
	POST /api/run/:cid                run a saved command and return its output
	POST /api/delete/:cid             delete a saved command
	GET  /health                      liveness
	GET  /live                        WebSocket push channel, see package session

Client is the matching HTTP client used by the CLI.
*/
package hub
