package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/stashpoint/settled/app/repository"
	"github.com/stashpoint/settled/internal/pkg/cache"
	"github.com/stashpoint/settled/internal/pkg/coordinator"
	"github.com/stashpoint/settled/internal/pkg/database"
	"github.com/stashpoint/settled/internal/pkg/env"
	"github.com/stashpoint/settled/internal/pkg/provider"
	"github.com/stashpoint/settled/internal/pkg/router"
)

func main() {
	app, coord := NewApplication()

	coord.Start()
	defer coord.Stop()

	// Shut down cleanly on SIGINT/SIGTERM so an in-flight retry pass finishes.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		coord.Stop()
		_ = app.Shutdown()
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() (*fiber.App, *coordinator.Coordinator) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()
	repository.InitializeFactory(database.GetDB())

	app := fiber.New(fiber.Config{
		AppName:   "settled",
		BodyLimit: 1 << 20, // webhook payloads are small; 1 MiB is generous
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// ROUTER
	router.InstallRouter(app)

	coord := coordinator.New(database.GetDB(), provider.NewHTTPClientFromEnv())
	return app, coord
}
