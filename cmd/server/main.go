package main

import (
	"github.com/OFFIS-RIT/ontograph/internal/server"
	"github.com/OFFIS-RIT/ontograph/internal/util"
	"github.com/OFFIS-RIT/ontograph/pkg/logger"
	"github.com/OFFIS-RIT/ontograph/pkg/logger/console"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  debug,
		Prefix: "server",
	})
	logger.Init(consoleLogger)

	server.Init()
}
