// Command nnoe-agent is the long-running node agent (spec §1): it
// reconciles the host's locally-managed network daemons against the
// KVDB. See cmd/nnoe-agent/app for command wiring.
package main

import "github.com/nnoe/node-agent/cmd/nnoe-agent/app"

func main() {
	app.Execute()
}
