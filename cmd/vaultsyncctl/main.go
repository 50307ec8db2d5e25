// Command vaultsyncctl is a thin embedder over the vaultsync engine core: a
// cobra command tree that loads a viper config, wires concrete provider
// adapters, and calls into the library. It is not part of the engine itself.
package main

import "github.com/vaultsync/enginecore/cmd/vaultsyncctl/cmd"

func main() {
	cmd.Execute()
}
