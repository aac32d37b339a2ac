package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-yaml"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ssau-fiit/cloudocs-sync/database"
)

type Globals struct {
	LogLevel  string `help:"Log level." default:"info" enum:"debug,info,warn,error" env:"CLOUDOCS_LOG_LEVEL"`
	LogFormat string `help:"Log output format." default:"console" enum:"console,json" env:"CLOUDOCS_LOG_FORMAT"`
}

var CLI struct {
	Globals

	Config kong.ConfigFlag `help:"Load flag values from a YAML file."`

	Serve ServeCmd `cmd:"" help:"Run the op log server."`
	Cat   CatCmd   `cmd:"" help:"Print the current snapshot of a document."`
	Put   PutCmd   `cmd:"" help:"Replace the text of a document, sent as a diff."`
}

type ServeCmd struct {
	Addr            string        `help:"Listen address." default:"0.0.0.0:8080" env:"CLOUDOCS_ADDR"`
	Backend         string        `help:"Document storage." default:"redis" enum:"redis,memory" env:"CLOUDOCS_BACKEND"`
	RedisAddr       string        `help:"Redis address." default:"localhost:6379" env:"CLOUDOCS_REDIS_ADDR"`
	RedisPassword   string        `help:"Redis password." env:"CLOUDOCS_REDIS_PASSWORD"`
	RedisDB         int           `name:"redis-db" help:"Redis database number." default:"0" env:"CLOUDOCS_REDIS_DB"`
	ShutdownTimeout time.Duration `help:"Grace period for open requests on shutdown." default:"10s"`
}

func (cmd *ServeCmd) Run(g *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var catalog database.Catalog
	switch cmd.Backend {
	case "memory":
		catalog = database.NewMemory()
	default:
		rdb, err := database.Connect(ctx, &redis.Options{
			Addr:     cmd.RedisAddr,
			Password: cmd.RedisPassword,
			DB:       cmd.RedisDB,
		})
		if err != nil {
			return err
		}
		defer rdb.Close()
		catalog = rdb
	}

	if g.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{Addr: cmd.Addr, Handler: newServer(catalog).router()}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info().Str("addr", cmd.Addr).Str("backend", cmd.Backend).Msg("serving")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cmd.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

func setupLogging(g *Globals) error {
	level, err := zerolog.ParseLevel(g.LogLevel)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(level)
	if g.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return nil
}

// yamlConfig resolves flags from a YAML document. Nested keys are joined
// with dashes, so "redis: {addr: x}" sets --redis-addr.
func yamlConfig(r io.Reader) (kong.Resolver, error) {
	var doc map[string]any
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	values := map[string]any{}
	flatten("", doc, values)

	return kong.ResolverFunc(func(_ *kong.Context, _ *kong.Path, flag *kong.Flag) (any, error) {
		if v, ok := values[flag.Name]; ok {
			return v, nil
		}
		return values[strings.ReplaceAll(flag.Name, "-", "_")], nil
	}), nil
}

func flatten(prefix string, m map[string]any, out map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "-" + k
		}
		if nested, ok := v.(map[string]any); ok {
			flatten(key, nested, out)
			continue
		}
		out[key] = v
	}
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("cloudocs"),
		kong.Description("Collaborative document op log server and client."),
		kong.UsageOnError(),
		kong.Configuration(yamlConfig, "/etc/cloudocs/config.yaml", "~/.config/cloudocs.yaml"),
	)
	ctx.FatalIfErrorf(setupLogging(&CLI.Globals))
	ctx.FatalIfErrorf(ctx.Run(&CLI.Globals))
}
