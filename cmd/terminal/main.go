package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/quickserve-pos/api/internal/logging"
	"github.com/quickserve-pos/api/internal/terminal"
)

// Headless terminal agent: logs in with its terminal credential, keeps
// the local catalog cache warm over the realtime channel and exposes
// the store to the kiosk UI process via the shared bbolt file.
func main() {
	godotenv.Load()
	logging.Setup(os.Getenv("LOG_LEVEL"))

	serverURL := getEnv("SERVER_URL", "http://localhost:8080")
	email := os.Getenv("TERMINAL_EMAIL")
	password := os.Getenv("TERMINAL_PASSWORD")
	dataPath := getEnv("TERMINAL_DATA", "terminal.db")

	if email == "" || password == "" {
		logrus.Fatal("TERMINAL_EMAIL and TERMINAL_PASSWORD are required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	token, locationID, err := terminal.Login(ctx, serverURL, email, password)
	if err != nil {
		logrus.WithError(err).Fatal("terminal login")
	}
	logrus.WithField("location_id", locationID).Info("terminal authenticated")

	store, err := terminal.Open(dataPath)
	if err != nil {
		logrus.WithError(err).Fatal("open terminal store")
	}
	defer store.Close()

	api := terminal.NewAPIClient(serverURL, token, locationID)
	if err := api.RefreshCatalog(ctx, store); err != nil {
		logrus.WithError(err).Fatal("initial catalog refresh")
	}

	listener := terminal.NewListener(serverURL, token, locationID, store)
	listener.Run(ctx)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
