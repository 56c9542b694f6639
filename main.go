package main

import (
	"github.com/nanoclaw/supervisor/cmd/supervisor"
)

func main() {
	supervisor.Execute()
}
