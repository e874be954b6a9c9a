// Package main implements taskctl, a command line client that submits library tasks.
//
// Usage:
//
//	taskctl scan-libraries
//	taskctl refresh-book-metadata B1 --capability title --capability authors
package main

import (
	"os"

	"github.com/guido-cesarano/librarytasks/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.Log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
