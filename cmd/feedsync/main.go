package main

import (
	"os"

	"github.com/hitoshi/feedsync/internal/app"
)

func main() {
	os.Exit(app.Main())
}
