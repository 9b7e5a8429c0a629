package main

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/parallax-ml/parallax/internal/collective"
	"github.com/parallax-ml/parallax/internal/logger"
	"github.com/parallax-ml/parallax/internal/optim"
	"github.com/parallax-ml/parallax/internal/partition"
	"github.com/parallax-ml/parallax/internal/tensor"
	"github.com/parallax-ml/parallax/internal/toy"
	"github.com/parallax-ml/parallax/internal/train"
	"github.com/parallax-ml/parallax/internal/tree"
)

type stepRecord struct {
	RunID        string  `json:"run_id"`
	Step         int64   `json:"step"`
	Loss         float32 `json:"loss"`
	Perplexity   float32 `json:"perplexity"`
	DurationMs   float64 `json:"duration_ms"`
	TokensPerSec float64 `json:"tokens_per_sec"`
}

func trainCmd() *cli.Command {
	var (
		workers     int64
		accumSteps  int64
		batchSize   int64
		steps       int64
		warmupRuns  int64
		learnRate   float64
		weightDecay float64
		dataSeed    int64
		jsonOut     bool
	)

	flags := append(commonModelFlags(), loggingFlags()...)
	flags = append(flags,
		&cli.Int64Flag{
			Name:        "workers",
			Aliases:     []string{"w"},
			Usage:       "number of data-parallel workers",
			Value:       4,
			Destination: &workers,
		},
		&cli.Int64Flag{
			Name:        "accum-steps",
			Usage:       "gradient accumulation steps per batch",
			Value:       8,
			Destination: &accumSteps,
		},
		&cli.Int64Flag{
			Name:        "batch-size",
			Aliases:     []string{"b"},
			Usage:       "per-worker batch size (rows before accumulation split)",
			Value:       32,
			Destination: &batchSize,
		},
		&cli.Int64Flag{
			Name:        "steps",
			Aliases:     []string{"n"},
			Usage:       "number of training steps",
			Value:       10,
			Destination: &steps,
		},
		&cli.Int64Flag{
			Name:        "warmup",
			Usage:       "number of untimed warmup steps",
			Value:       1,
			Destination: &warmupRuns,
		},
		&cli.Float64Flag{
			Name:        "lr",
			Usage:       "learning rate",
			Value:       1e-3,
			Destination: &learnRate,
		},
		&cli.Float64Flag{
			Name:        "weight-decay",
			Usage:       "decoupled weight decay coefficient",
			Value:       0.01,
			Destination: &weightDecay,
		},
		&cli.Int64Flag{
			Name:        "data-seed",
			Usage:       "synthetic data seed",
			Value:       42,
			Destination: &dataSeed,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "emit per-step metrics as JSON lines on stdout",
			Destination: &jsonOut,
		},
	)

	return &cli.Command{
		Name:  "train",
		Usage: "Run a data-parallel training benchmark on the toy model",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyTrainConfig(cmd, LoadConfig(), &workers, &accumSteps, &batchSize, &learnRate, &weightDecay)
			log := newLog()
			ctx = logger.WithContext(ctx, log)
			runID := uuid.NewString()

			mesh, err := partition.NewMesh("train", []string{"batch"}, []int{int(workers)})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: mesh: %v", err), 1)
			}
			group, err := collective.NewGroup(int(workers))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: group: %v", err), 1)
			}

			model := toy.NewLM(toy.TokenizerVocab, int(hiddenDim), int(contextLen), modelSeed)
			params, err := model.Params()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: params: %v", err), 1)
			}
			specs := partition.ReplicatedLike(params)
			state, err := train.NewTrainState(params, optim.NewAdamW(float32(learnRate), float32(weightDecay)))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: train state: %v", err), 1)
			}
			stepper, err := train.NewStepper(train.Config{
				AccumSteps: int(accumSteps),
				Mesh:       mesh,
				Specs:      specs,
				Group:      group,
				LossGrad:   model.LossGrad,
				Loss:       model.Loss,
			})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: stepper: %v", err), 1)
			}

			log.Info("starting training run",
				"run_id", runID,
				"workers", workers,
				"accum_steps", accumSteps,
				"batch_size", batchSize,
				"steps", steps,
				"lr", learnRate)

			tokensPerStep := float64(workers * batchSize * contextLen)
			records := make([]stepRecord, 0, steps)
			var evalMetrics train.Metrics
			var mu sync.Mutex

			err = group.Run(ctx, func(ctx context.Context, worker int) error {
				rng := rand.New(rand.NewSource(dataSeed + int64(worker)))
				st := state

				for i := int64(0); i < warmupRuns+steps; i++ {
					batch, err := syntheticBatch(rng, int(batchSize), int(accumSteps), int(contextLen))
					if err != nil {
						return err
					}
					start := time.Now()
					next, metrics, err := stepper.Step(st, batch, rng)
					if err != nil {
						return err
					}
					st = next

					if worker == 0 && i >= warmupRuns {
						elapsed := time.Since(start)
						mu.Lock()
						records = append(records, stepRecord{
							RunID:        runID,
							Step:         i - warmupRuns,
							Loss:         metrics.Loss,
							Perplexity:   metrics.Perplexity,
							DurationMs:   float64(elapsed.Microseconds()) / 1000,
							TokensPerSec: tokensPerStep / elapsed.Seconds(),
						})
						mu.Unlock()
					}
				}

				evalBatch, err := syntheticBatch(rng, int(batchSize), int(accumSteps), int(contextLen))
				if err != nil {
					return err
				}
				metrics, err := stepper.Eval(st, evalBatch)
				if err != nil {
					return err
				}
				if worker == 0 {
					mu.Lock()
					evalMetrics = metrics
					mu.Unlock()
				}
				return nil
			})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: training run: %v", err), 1)
			}

			if jsonOut {
				for _, r := range records {
					b, err := json.Marshal(r)
					if err != nil {
						return err
					}
					fmt.Println(string(b))
				}
				return nil
			}

			fmt.Println("=== Parallax Training Benchmark ===")
			fmt.Printf("Run:      %s\n", runID)
			fmt.Printf("Workers:  %d (GOMAXPROCS %d)\n", workers, runtime.GOMAXPROCS(0))
			fmt.Printf("Batch:    %d rows x %d ctx, %d accumulation steps\n", batchSize, contextLen, accumSteps)
			fmt.Println()
			fmt.Printf("%-6s %12s %12s %12s %14s\n", "Step", "Loss", "PPL", "Duration", "Tokens/s")

			var sumTPS float64
			for _, r := range records {
				fmt.Printf("%-6d %12.6f %12.4f %10.2fms %14.0f\n",
					r.Step, r.Loss, r.Perplexity, r.DurationMs, r.TokensPerSec)
				sumTPS += r.TokensPerSec
			}
			if n := len(records); n > 0 {
				fmt.Printf("\n%-6s %51.0f\n", "Avg", sumTPS/float64(n))
			}
			fmt.Printf("\nEval:   loss %.6f  ppl %.4f\n", evalMetrics.Loss, evalMetrics.Perplexity)

			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)
			fmt.Printf("Memory: %.1f MB alloc, %.1f MB sys\n",
				float64(mem.Alloc)/(1024*1024),
				float64(mem.Sys)/(1024*1024))
			return nil
		},
	}
}

// syntheticBatch draws a random token batch and splits it for
// accumulation.
func syntheticBatch(rng *rand.Rand, batchSize, accumSteps, ctxLen int) (*tree.Tree[*tensor.IntTensor], error) {
	tokens := tensor.NewInt(batchSize, ctxLen)
	for i := range tokens.Data {
		tokens.Data[i] = int32(rng.Intn(toy.TokenizerVocab))
	}
	split, err := train.ReshapeForAccumulation(tokens, accumSteps)
	if err != nil {
		return nil, err
	}
	batch := tree.New[*tensor.IntTensor]()
	if err := batch.Set("tokens", split); err != nil {
		return nil, err
	}
	return batch, nil
}
