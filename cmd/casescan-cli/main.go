package main

import (
	"context"

	"github.com/use-agent/casescan/cmd/casescan-cli/commands"
)

func main() {
	commands.ExecuteContext(context.Background())
}
