package main

import "github.com/oshokin/formula-install/cmd/formula-checksum/cmd"

func main() {
	cmd.Execute()
}
