// Command serialmon records a serial or terminal byte stream into session
// log files and serves the live log to browser clients over WebSocket.
//
// Subcommands:
//
//	serve     run the worker and the web transport, optionally with a local source
//	ingest    feed a local source into the current session without the web server
//	sessions  list session files (from the catalog when enabled)
//	export    write a session file to stdout or a file
//	config    create or validate config.toml
package main
