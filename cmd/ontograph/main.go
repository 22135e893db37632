package main

import (
	"os"

	"github.com/OFFIS-RIT/ontograph/internal/util"
	"github.com/OFFIS-RIT/ontograph/pkg/logger"
	"github.com/OFFIS-RIT/ontograph/pkg/logger/console"
)

func main() {
	util.LoadEnv()

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  util.GetEnvBool("DEBUG", false),
		Prefix: "ontograph",
	})
	logger.Init(consoleLogger)

	if err := rootCmd.Execute(); err != nil {
		logger.Error("Command failed", "err", err)
		os.Exit(1)
	}
}
