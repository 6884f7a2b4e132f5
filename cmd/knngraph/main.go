package main

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"runtime/pprof"
	"strconv"
	"time"

	"github.com/ar90n/knngraph"
	"github.com/ar90n/knngraph/config"
	"github.com/ar90n/knngraph/dataset"
	"github.com/ar90n/knngraph/graph"
	"github.com/ar90n/knngraph/metrics"
	"github.com/ar90n/knngraph/partition"
	"github.com/ar90n/knngraph/pipeline"
	"github.com/ar90n/knngraph/search"
	"github.com/ar90n/knngraph/similarity"
	"github.com/ar90n/knngraph/synthetic"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
)

type env struct {
	conf      *config.Config
	logger    *knngraph.Logger
	exec      *dataset.Executor
	collector *metrics.Collector
}

func setup(c *cli.Context) (*env, func(), error) {
	conf, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	if c.IsSet("builder") {
		conf.Builder.Type = c.String("builder")
	}
	if c.IsSet("k") {
		conf.Builder.K = c.Int("k")
	}
	if c.IsSet("dim") {
		conf.Builder.Dim = c.Int("dim")
	}
	if c.IsSet("log-level") {
		conf.LogLevel = c.String("log-level")
	}
	if err := conf.Validate(); err != nil {
		return nil, nil, err
	}

	level, err := conf.Level()
	if err != nil {
		return nil, nil, err
	}
	logger := knngraph.NewTextLogger(level)
	if c.Bool("json") {
		logger = knngraph.NewJSONLogger(level)
	}

	reg := prometheus.NewRegistry()
	collector, err := metrics.NewCollector(reg)
	if err != nil {
		return nil, nil, err
	}

	cleanups := []func(){}
	if addr := c.String("metrics-addr"); addr != "" {
		server := &http.Server{Addr: addr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
		cleanups = append(cleanups, func() { server.Close() })
	}

	if name := c.String("profile-output"); name != "" {
		f, err := os.Create(name)
		if err != nil {
			return nil, nil, err
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return nil, nil, err
		}
		cleanups = append(cleanups, func() {
			pprof.StopCPUProfile()
			f.Close()
		})
	}

	exec := dataset.NewExecutor(
		dataset.WithWorkers(conf.Workers),
		dataset.WithDefaultPartitions(conf.Builder.Partitions),
		dataset.WithLogger(logger),
	)

	cleanup := func() {
		for i := len(cleanups) - 1; 0 <= i; i-- {
			cleanups[i]()
		}
	}
	return &env{conf: conf, logger: logger, exec: exec, collector: collector}, cleanup, nil
}

func parseOverlap(s string) (synthetic.Overlap, error) {
	for _, o := range []synthetic.Overlap{synthetic.OverlapNone, synthetic.OverlapLow, synthetic.OverlapMedium, synthetic.OverlapHigh} {
		if o.String() == s {
			return o, nil
		}
	}
	return 0, fmt.Errorf("unknown overlap: %s", s)
}

func generate(c *cli.Context, e *env, seed uint64) ([]graph.Node[[]float64], *synthetic.Gaussian, error) {
	overlap, err := parseOverlap(c.String("overlap"))
	if err != nil {
		return nil, nil, err
	}

	gen, err := synthetic.NewGaussian(e.conf.Builder.Dim, c.Int("centers"),
		synthetic.WithOverlap(overlap),
		synthetic.WithSource(rand.NewPCG(seed, seed+1)),
	)
	if err != nil {
		return nil, nil, err
	}

	points := gen.Points(c.Int("points"))
	nodes := make([]graph.Node[[]float64], len(points))
	for i, p := range points {
		nodes[i] = graph.NewNode(strconv.Itoa(i), p)
	}
	return nodes, gen, nil
}

func createBuilder(e *env) (graph.Builder[[]float64], error) {
	b := e.conf.Builder
	logger := e.logger.WithComponent(b.Type).WithK(b.K)

	newDescent := func() *graph.NNDescent[[]float64] {
		return graph.NewNNDescent[[]float64](similarity.Euclidean).
			SetK(b.K).
			SetRho(b.Rho).
			SetDelta(b.Delta).
			SetMaxIterations(b.MaxIterations).
			SetIterationHook(e.collector.NNDescentHook()).
			SetLogger(logger)
	}

	switch b.Type {
	case config.BuilderBrute:
		return graph.NewBrute[[]float64](similarity.Euclidean).SetK(b.K).SetLogger(logger), nil
	case config.BuilderNNDescent:
		return newDescent(), nil
	case config.BuilderLSH:
		var inner graph.LocalBuilder[[]float64] = graph.NewBrute[[]float64](similarity.Euclidean)
		if b.Inner == config.BuilderNNDescent {
			inner = newDescent()
		}
		identity := func(v []float64) []float64 { return v }
		return graph.NewLSHBucketed[[]float64](b.Dim, identity, similarity.Euclidean, inner).
			SetK(b.K).
			SetStages(b.Stages).
			SetBuckets(b.Buckets).
			SetLogger(logger), nil
	default:
		return nil, errors.Wrapf(config.ErrUnknownBuilder, "type = %q", b.Type)
	}
}

func buildGraph(ctx context.Context, e *env, nodes []graph.Node[[]float64]) (*graph.Graph[[]float64], error) {
	builder, err := createBuilder(e)
	if err != nil {
		return nil, err
	}

	e.logger.Info("building graph", "builder", e.conf.Builder.Type, "nodes", len(nodes))
	start := time.Now()
	g, err := builder.ComputeGraph(ctx, dataset.Parallelize(e.exec, nodes, e.conf.Builder.Partitions))
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)
	e.collector.ObserveBuild(e.conf.Builder.Type, elapsed)

	summary, err := g.Summary(ctx)
	if err != nil {
		return nil, err
	}
	e.logger.Info("graph built", "elapsed", elapsed, "nodes", summary.Nodes, "edges", summary.Edges, "mean_neighbors", summary.MeanNeighbors)
	return g, nil
}

func buildAction(c *cli.Context) error {
	e, cleanup, err := setup(c)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	nodes, _, err := generate(c, e, c.Uint64("seed"))
	if err != nil {
		return err
	}
	g, err := buildGraph(ctx, e, nodes)
	if err != nil {
		return err
	}

	p := e.conf.Partitioner
	partitioner := partition.New[[]float64](
		partition.WithBalance(p.Balance),
		partition.WithLogger(e.logger.WithComponent("partitioner").WithPartitions(p.Partitions)),
		partition.WithMoveHook(e.collector.PartitionHook()),
	)
	partitioned, err := partitioner.Partition(ctx, g, p.Partitions, p.Iterations)
	if err != nil {
		return err
	}

	locality, err := partition.Locality(ctx, partitioned)
	if err != nil {
		return err
	}
	summary, err := partitioned.Summary(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("nodes=%d edges=%d partitions=%v locality=%.3f\n", summary.Nodes, summary.Edges, summary.PartitionSizes, locality)
	return nil
}

func searchAction(c *cli.Context) error {
	e, cleanup, err := setup(c)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	nodes, gen, err := generate(c, e, c.Uint64("seed"))
	if err != nil {
		return err
	}
	g, err := buildGraph(ctx, e, nodes)
	if err != nil {
		return err
	}

	p := e.conf.Partitioner
	approximate, err := search.NewApproximateSearch[[]float64](ctx, g, p.Iterations, p.Partitions, similarity.Euclidean,
		search.WithLogger(e.logger.WithComponent("search")),
		search.WithObserver(e.collector),
		search.WithPartitionOptions(
			partition.WithBalance(p.Balance),
			partition.WithMoveHook(e.collector.PartitionHook()),
		),
	)
	if err != nil {
		return err
	}
	exhaustive, err := search.NewExhaustiveSearchFromGraph(g, similarity.Euclidean, search.WithObserver(e.collector))
	if err != nil {
		return err
	}

	s := e.conf.Search
	acc := search.NewStatisticsAccumulator()
	queries := c.Int("queries")
	stream := pipeline.Generate(ctx, queries, func(i int) graph.Node[[]float64] {
		return graph.NewNode("query-"+strconv.Itoa(i), gen.Next())
	})
	commons, wait := pipeline.Map(ctx, stream, e.conf.Workers, func(ctx context.Context, query graph.Node[[]float64]) (int, error) {
		found, err := approximate.Search(ctx, query, s.ResultSize, s.Speedup, s.Jumps, s.Expansion, acc)
		if err != nil {
			return 0, err
		}
		exact, err := exhaustive.Search(ctx, query, s.ResultSize)
		if err != nil {
			return 0, err
		}
		return found.CountCommons(exact), nil
	})

	hits := 0
	for n := range commons {
		hits += n
	}
	if err := wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	recall := 0.0
	if 0 < queries {
		recall = float64(hits) / float64(queries*s.ResultSize)
	}
	fmt.Printf("queries=%d recall=%.3f %s\n", queries, recall, acc)
	return nil
}

func main() {
	commonFlags := []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "yaml config file",
		},
		&cli.StringFlag{
			Name:  "builder",
			Value: config.BuilderBrute,
			Usage: "graph builder (brute, nndescent or lsh)",
		},
		&cli.IntFlag{
			Name:  "k",
			Value: 10,
			Usage: "neighbors per node",
		},
		&cli.IntFlag{
			Name:  "dim",
			Value: 1,
			Usage: "dimension of points",
		},
		&cli.IntFlag{
			Name:  "points",
			Value: 10000,
			Usage: "number of points",
		},
		&cli.IntFlag{
			Name:  "centers",
			Value: 10,
			Usage: "number of gaussian clusters",
		},
		&cli.StringFlag{
			Name:  "overlap",
			Value: "medium",
			Usage: "cluster overlap (none, low, medium or high)",
		},
		&cli.Uint64Flag{
			Name:  "seed",
			Value: 42,
			Usage: "seed of the generated points",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Value: "info",
			Usage: "log level",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "log as json",
		},
		&cli.StringFlag{
			Name:  "metrics-addr",
			Usage: "address to serve prometheus metrics on",
		},
		&cli.StringFlag{
			Name:  "profile-output",
			Usage: "profile output file",
		},
	}

	app := &cli.App{
		Name:     "knngraph",
		HelpName: "knngraph",
		Usage:    "build and search k-nn graphs over synthetic points",
		Commands: []*cli.Command{
			{
				Name:      "build",
				Usage:     "build and partition a graph",
				UsageText: "knngraph build [command options]",
				Action:    buildAction,
				Flags:     commonFlags,
			},
			{
				Name:      "search",
				Usage:     "compare approximate search against exhaustive search",
				UsageText: "knngraph search [command options]",
				Action:    searchAction,
				Flags: append(commonFlags,
					&cli.IntFlag{
						Name:  "queries",
						Value: 100,
						Usage: "number of queries",
					},
				),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
