package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/parallax-ml/parallax/internal/decode"
	"github.com/parallax-ml/parallax/internal/logger"
	"github.com/parallax-ml/parallax/internal/toy"
)

func generateCmd() *cli.Command {
	var (
		prompt            string
		steps             int64
		seed              int64
		method            string
		temperature       float64
		topK              int64
		topP              float64
		tau               float64
		repetitionPenalty float64
		showLogProbs      bool
	)

	flags := append(commonModelFlags(), loggingFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "prompt",
			Aliases:     []string{"p"},
			Usage:       "prompt text",
			Value:       "The quick brown fox",
			Destination: &prompt,
		},
		&cli.Int64Flag{
			Name:        "steps",
			Aliases:     []string{"n"},
			Usage:       "maximum tokens to generate",
			Value:       64,
			Destination: &steps,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "sampling seed (0 uses the current time)",
			Destination: &seed,
		},
		&cli.StringFlag{
			Name:        "method",
			Usage:       "decoding method (greedy, nucleus, topk, typical)",
			Value:       decode.MethodGreedy,
			Destination: &method,
		},
		&cli.Float64Flag{
			Name:        "temperature",
			Aliases:     []string{"temp", "t"},
			Usage:       "softmax temperature",
			Value:       1.0,
			Destination: &temperature,
		},
		&cli.Int64Flag{
			Name:        "top-k",
			Usage:       "keep the k highest logits (topk method)",
			Destination: &topK,
		},
		&cli.Float64Flag{
			Name:        "top-p",
			Usage:       "nucleus probability mass (nucleus method)",
			Destination: &topP,
		},
		&cli.Float64Flag{
			Name:        "tau",
			Usage:       "typicality mass (typical method)",
			Destination: &tau,
		},
		&cli.Float64Flag{
			Name:        "repetition-penalty",
			Usage:       "penalty applied to already generated tokens",
			Value:       1.0,
			Destination: &repetitionPenalty,
		},
		&cli.BoolFlag{
			Name:        "logprobs",
			Usage:       "print the per-step log probability trace",
			Destination: &showLogProbs,
		},
	)

	return &cli.Command{
		Name:  "generate",
		Usage: "Decode text from the toy model",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyGenerateConfig(cmd, LoadConfig(), &method, &temperature, &topP, &tau,
				&repetitionPenalty, &topK, &steps, &seed)
			log := newLog()
			ctx = logger.WithContext(ctx, log)

			if seed == 0 {
				seed = time.Now().UnixNano()
			}
			model := toy.NewLM(toy.TokenizerVocab, int(hiddenDim), int(contextLen), modelSeed)
			gen := &decode.Generator{
				Model:      model,
				Tokenizer:  toy.ByteTokenizer{},
				ContextLen: model.CtxLen,
			}

			start := time.Now()
			result, err := gen.Generate(ctx, decode.Request{
				Prompt:            prompt,
				Steps:             int(steps),
				Seed:              seed,
				Method:            method,
				Temperature:       float32(temperature),
				TopK:              int(topK),
				TopP:              float32(topP),
				Tau:               float32(tau),
				RepetitionPenalty: float32(repetitionPenalty),
			})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: generate: %v", err), 1)
			}
			elapsed := time.Since(start)

			fmt.Println(result.Text)
			if showLogProbs {
				for i, lp := range result.LogProbs {
					fmt.Printf("step %-4d logprob %.4f\n", i, lp)
				}
			}
			log.Info("generation complete",
				"method", method,
				"steps", result.Steps,
				"duration", elapsed.Round(time.Millisecond),
				"tokens_per_sec", float64(result.Steps)/elapsed.Seconds())
			return nil
		},
	}
}
