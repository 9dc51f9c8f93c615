package main

import (
	"github.com/onflow/flow-blockstream/cmd/blockstream/cmd"
)

func main() {
	cmd.Execute()
}
