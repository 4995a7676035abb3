package main

import (
	"os"

	"github.com/htol/bookcat/app"
)

func main() {
	os.Exit(app.CLI(os.Args[1:]))
}
