// Command server boots the exchange core: connects to Postgres, applies
// migrations, and serves the HTTP/JSON surface from spec.md §6.
// Grounded on the teacher's cmd/server/main.go, with its hand-rolled
// .env parser replaced by joho/godotenv and its log.Printf calls
// replaced by zerolog.
package main

import (
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"stockmarket-core/internal/admin"
	"stockmarket-core/internal/auth"
	"stockmarket-core/internal/db"
	"stockmarket-core/internal/httpapi"
	"stockmarket-core/internal/orderservice"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := godotenv.Load(); err != nil {
		log.Info().Msg("no .env file found, reading configuration from the environment")
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal().Msg("DATABASE_URL is required")
	}
	adminToken := os.Getenv("ADMIN_API_TOKEN")
	port := envOrDefault("PORT", "8080")

	conn, err := db.Open(dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("db open")
	}
	log.Info().Msg("connected to database")

	if err := db.Migrate(conn, "migrations"); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}
	log.Info().Msg("migrations applied")

	authSvc := auth.New(conn, adminToken)
	adminSvc := admin.New(conn)
	orderSvc := orderservice.New(conn)

	srv := httpapi.NewServer(conn, authSvc, adminSvc, orderSvc)

	log.Info().Str("port", port).Msg("listening")
	if err := http.ListenAndServe(":"+port, srv.Router()); err != nil {
		log.Fatal().Err(err).Msg("server")
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
