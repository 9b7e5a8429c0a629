package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"
	"golang.org/x/time/rate"

	"github.com/parallax-ml/parallax/internal/api"
	"github.com/parallax-ml/parallax/internal/decode"
	"github.com/parallax-ml/parallax/internal/logger"
	"github.com/parallax-ml/parallax/internal/toy"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		rateLimit   float64
		rateBurst   int64
	)

	flags := append(commonModelFlags(), loggingFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "listen address",
			Value:       "127.0.0.1:8080",
			Destination: &addr,
		},
		&cli.DurationFlag{
			Name:        "read-timeout",
			Usage:       "read header timeout",
			Value:       30 * time.Second,
			Destination: &readTimeout,
		},
		&cli.Float64Flag{
			Name:        "rate",
			Usage:       "generation requests per second (0 disables limiting)",
			Destination: &rateLimit,
		},
		&cli.Int64Flag{
			Name:        "rate-burst",
			Usage:       "rate limiter burst size",
			Value:       4,
			Destination: &rateBurst,
		},
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the generation REST API",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyServeConfig(cmd, LoadConfig(), &addr)
			log := newLog()
			ctx = logger.WithContext(ctx, log)

			model := toy.NewLM(toy.TokenizerVocab, int(hiddenDim), int(contextLen), modelSeed)
			gen := &decode.Generator{
				Model:      model,
				Tokenizer:  toy.ByteTokenizer{},
				ContextLen: model.CtxLen,
			}

			var limiter *rate.Limiter
			if rateLimit > 0 {
				limiter = rate.NewLimiter(rate.Limit(rateLimit), int(rateBurst))
			}
			server := api.NewServer(gen, api.NewGenerationStore(), limiter, log)

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)

			log.Info("starting server", "address", addr)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
