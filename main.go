package main

import (
	"github.com/arborstore/tfdb/cmd"
	"github.com/arborstore/tfdb/internal/log"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal("%v", err)
	}
}
