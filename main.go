package main

import (
	"context"

	"wb_scraper/commands"
)

func main() {
	commands.ExecuteContext(context.Background())
}
