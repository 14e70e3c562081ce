package main

import (
	"github.com/jwoglom/bleperipheral/pkg/cli"

	log "github.com/sirupsen/logrus"
)

func main() {
	if err := cli.Commands().Execute(); err != nil {
		log.Fatalf("%v", err)
	}
}
