package main

import (
	"os"

	"crossforge/internal/crossforge"
)

func main() {
	os.Exit(crossforge.Main())
}
