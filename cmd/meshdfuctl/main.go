// meshdfuctl is a CLI client for the meshdfu admin API.
package main

import "github.com/meshdfu/meshdfu/cmd/meshdfuctl/commands"

func main() {
	commands.Execute()
}
