// Command chifabric synthesizes CHI multi-die topologies and looks for
// protocol deadlocks in runtime traces.
package main

import "github.com/sarchlab/chifabric/chifabric/cmd"

func main() {
	cmd.Execute()
}
