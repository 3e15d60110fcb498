package main

import (
	"os"

	"github.com/sirupsen/logrus"
)

var logger = logrus.New()

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.Error(err)
		os.Exit(1)
	}
}
