package main

import (
	"os"

	"github.com/dataagent-ai/dataagent/cmd/dataagent/commands"
)

func main() {
	os.Exit(commands.Execute())
}
