package main

import (
	"github.com/rkanadev/raiblocks/src/cmd/rai/command"
)

func main() {
	command.Execute()
}
