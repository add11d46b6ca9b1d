package main

import "github.com/oshokin/formula-install/cmd/formula-install/cmd"

func main() {
	cmd.Execute()
}
