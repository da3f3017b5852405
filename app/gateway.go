package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/seopulse/gateway/app/config"
	"github.com/seopulse/gateway/app/database"
	"github.com/seopulse/gateway/app/engine"
	"github.com/seopulse/gateway/app/provider"
	"github.com/seopulse/gateway/app/server"
	slogctx "github.com/veqryn/slog-context"
)

func main() {

	// Route context-appended attributes through the default logger
	handler := slogctx.NewHandler(slog.NewJSONHandler(os.Stdout, nil), nil)
	slog.SetDefault(slog.New(handler))

	// Load configuration
	config, err := config.Read()

	if err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Set up a database connection using the specified driver
	var db database.Database

	switch config.DB.Driver {
	case "sqlite":
		sqlite, err := database.SQLiteFromFile(config.DB.ConnectionString)
		if err != nil {
			panic(fmt.Sprintf("Error opening SQLite database: %v", err))
		}
		db = sqlite
	default:
		panic(fmt.Sprintf("Unknown database driver: %v. Valid drivers include: sqlite.", config.DB.Driver))
	}

	{
		// Create DB tables if they don't exist (and set SQLite to WAL mode)
		err := db.Setup()

		if err != nil {
			panic(fmt.Sprintf("Failed to set up database: %v", err))
		}
	}

	client := provider.New(config.Provider.BaseURL, config.Provider.Credential)
	eng := engine.New(db, client, config)

	// Periodically delete audit records past the retention window
	go startPruneJob(db, config)

	// Create an API server
	server.Start(eng, config)
}
