// Command create-user seeds an account into the StreamHub catalog. Running it
// again with the same email reports the existing account instead of failing.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"streamhub/internal/config"
	"streamhub/internal/models"
	"streamhub/internal/observability/logging"
	"streamhub/internal/storage"
)

type options struct {
	driver      string
	jsonPath    string
	postgresDSN string
	mongoURI    string
	mongoDB     string
	username    string
	email       string
	password    string
	avatarURL   string
	timeout     time.Duration
}

type result struct {
	Created bool        `json:"created"`
	User    models.User `json:"user"`
}

func main() {
	_ = config.Load()
	var opts options
	flag.StringVar(&opts.driver, "storage-driver", config.GetEnv("", "STREAMHUB_STORAGE_DRIVER"), "catalog backend (json, postgres, mongo)")
	flag.StringVar(&opts.jsonPath, "json", config.GetEnv("data/store.json", "STREAMHUB_DATA"), "path to the JSON catalog")
	flag.StringVar(&opts.postgresDSN, "postgres-dsn", config.GetEnv("", "STREAMHUB_POSTGRES_DSN", "DATABASE_URL"), "Postgres connection string")
	flag.StringVar(&opts.mongoURI, "mongo-uri", config.GetEnv("", "STREAMHUB_MONGO_URI", "MONGODB_URI"), "MongoDB connection string")
	flag.StringVar(&opts.mongoDB, "mongo-database", config.GetEnv("streamhub", "STREAMHUB_MONGO_DATABASE"), "MongoDB database name")
	flag.StringVar(&opts.username, "username", "", "username for the account")
	flag.StringVar(&opts.email, "email", "", "email address for the account")
	flag.StringVar(&opts.password, "password", "", "password for the account")
	flag.StringVar(&opts.avatarURL, "avatar-url", "", "optional avatar URL")
	flag.DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall timeout")
	flag.Parse()

	logger := logging.New(logging.Config{Level: "info", Format: "text", Writer: os.Stderr})

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	repo, err := openRepository(ctx, opts, logger)
	if err != nil {
		logger.Error("failed to open repository", "error", err)
		os.Exit(1)
	}
	defer func() { _ = repo.Close(context.Background()) }()

	if err := run(ctx, repo, opts, os.Stdout); err != nil {
		logger.Error("create user failed", "error", err)
		os.Exit(1)
	}
}

func openRepository(ctx context.Context, opts options, logger *slog.Logger) (storage.Repository, error) {
	driver := strings.ToLower(strings.TrimSpace(opts.driver))
	if driver == "" {
		switch {
		case opts.postgresDSN != "":
			driver = "postgres"
		case opts.mongoURI != "":
			driver = "mongo"
		default:
			driver = "json"
		}
	}
	logOpt := storage.WithLogger(logging.WithComponent(logger, "storage"))
	switch driver {
	case "json":
		return storage.NewJSONRepository(opts.jsonPath, logOpt)
	case "postgres":
		if opts.postgresDSN == "" {
			return nil, errors.New("postgres driver requires -postgres-dsn")
		}
		return storage.NewPostgresRepository(ctx, opts.postgresDSN, logOpt, storage.WithApplicationName("streamhub-create-user"))
	case "mongo", "mongodb":
		if opts.mongoURI == "" {
			return nil, errors.New("mongo driver requires -mongo-uri")
		}
		return storage.NewMongoRepository(ctx, opts.mongoURI, opts.mongoDB, logOpt)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", opts.driver)
	}
}

func run(ctx context.Context, repo storage.Repository, opts options, out io.Writer) error {
	if strings.TrimSpace(opts.email) == "" || opts.password == "" {
		return errors.New("-email and -password are required")
	}
	username := opts.username
	if strings.TrimSpace(username) == "" {
		username, _, _ = strings.Cut(opts.email, "@")
	}

	res := result{}
	user, err := repo.CreateUser(ctx, storage.CreateUserParams{
		Username:  username,
		Email:     opts.email,
		Password:  opts.password,
		AvatarURL: opts.avatarURL,
	})
	switch {
	case err == nil:
		res.Created = true
		res.User = user
	case errors.Is(err, storage.ErrDuplicate):
		existing, lookupErr := findByEmail(ctx, repo, opts.email)
		if lookupErr != nil {
			return fmt.Errorf("%w (lookup: %v)", err, lookupErr)
		}
		res.User = existing
	default:
		return err
	}
	res.User.PasswordHash = ""

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(res)
}

// findByEmail returns the account already holding email. A duplicate on
// username alone yields ErrNotFound.
func findByEmail(ctx context.Context, repo storage.Repository, email string) (models.User, error) {
	users, err := repo.ListUsers(ctx, "")
	if err != nil {
		return models.User{}, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	for _, user := range users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return models.User{}, storage.ErrNotFound
}
