package main

import "github.com/oshokin/alarm-engine/cmd/alarmd/cmd"

func main() {
	cmd.Execute()
}
