package main

import (
	"os"

	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
