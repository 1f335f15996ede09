// esindex bulk-loads documents from the primary store into their
// Elasticsearch indexes. By default only documents missing from the
// index are submitted; --force re-indexes everything.
package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ramses-tech/nefertari/internal/app"
	"github.com/ramses-tech/nefertari/internal/config"
	"github.com/ramses-tech/nefertari/internal/es"
	"github.com/ramses-tech/nefertari/internal/indexer"
	logpkg "github.com/ramses-tech/nefertari/internal/logger"
	"github.com/ramses-tech/nefertari/internal/model"
	"github.com/ramses-tech/nefertari/internal/orm/redisorm"
)

type indexOptions struct {
	configPath string
	models     []string
	params     string
	indexName  string
	chunkSize  int
	force      bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "esindex",
		Short:         "esindex - load documents into Elasticsearch",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newIndexCommand())
	return root
}

func newIndexCommand() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index",
		Short: "index documents of the given models",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to the YAML config file (defaults to config/<ENV>.yaml).")
	flags.StringSliceVarP(&opts.models, "models", "m", nil, "Model names to index, comma-separated.")
	flags.StringVarP(&opts.params, "params", "p", "", "Collection filter as a query string, e.g. status=draft&author=1.")
	flags.StringVarP(&opts.indexName, "index", "i", "", "Index name prefix override.")
	flags.IntVarP(&opts.chunkSize, "chunk", "n", 0, "Documents per bulk submission.")
	flags.BoolVarP(&opts.force, "force", "f", false, "Re-index documents already present in the index.")
	_ = cmd.MarkFlagRequired("models")

	return cmd
}

func runIndex(ctx context.Context, opts indexOptions) error {
	env := config.GetEnv()

	var cfg config.Config
	var err error
	if opts.configPath != "" {
		cfg, err = config.LoadFile(opts.configPath)
	} else {
		cfg, err = config.Load(env)
	}
	if err != nil {
		return err
	}
	if opts.indexName != "" {
		cfg.Elasticsearch.IndexName = opts.indexName
	}
	if opts.chunkSize > 0 {
		cfg.Elasticsearch.ChunkSize = opts.chunkSize
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	filters, err := parseFilters(opts.params)
	if err != nil {
		return err
	}

	registry := app.NewRegistry()

	store, err := redisorm.NewStore(redisorm.Config{
		Addrs:     cfg.Database.Addrs,
		Password:  cfg.Database.Password,
		KeyPrefix: cfg.Database.KeyPrefix,
	}, registry)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		return err
	}

	esClient, err := es.NewClient(es.Config{
		Hosts:            cfg.Elasticsearch.Hosts,
		IndexName:        cfg.Elasticsearch.IndexName,
		Sniff:            cfg.Elasticsearch.Sniff,
		SniffIntervalSec: cfg.Elasticsearch.SniffIntervalSec,
	}, logger)
	if err != nil {
		return err
	}

	for _, name := range opts.models {
		// Accept dotted paths and keep the trailing model name.
		if i := strings.LastIndex(name, "."); i >= 0 {
			name = name[i+1:]
		}
		if err := indexModel(ctx, store, esClient, registry, cfg, name, filters, opts.force, logger); err != nil {
			return fmt.Errorf("index %s: %w", name, err)
		}
	}
	return nil
}

func indexModel(
	ctx context.Context,
	store *redisorm.Store,
	esClient *es.Client,
	registry *model.Registry,
	cfg config.Config,
	name string,
	filters map[string]any,
	force bool,
	logger *zap.Logger,
) error {
	info, ok := registry.Resolve(name)
	if !ok {
		return fmt.Errorf("unknown model %q", name)
	}
	if !info.IndexEnabled {
		logger.Warn("model has indexing disabled, skipping", zap.String("model", info.Name))
		return nil
	}

	docs, err := store.GetCollection(ctx, name, filters)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		logger.Info("nothing to index", zap.String("model", info.Name))
		return nil
	}

	ix, err := indexer.New(esClient, registry, store, name, cfg.Elasticsearch.ChunkSize, logger)
	if err != nil {
		return err
	}

	bar := progressbar.Default(int64(len(docs)), "indexing "+info.TypeName())
	chunk := cfg.Elasticsearch.ChunkSize
	submitted := 0
	for start := 0; start < len(docs); start += chunk {
		end := start + chunk
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[start:end]
		if force {
			if err := ix.Index(ctx, batch, false); err != nil {
				return err
			}
			submitted += len(batch)
		} else {
			n, err := ix.IndexMissing(ctx, batch)
			if err != nil {
				return err
			}
			submitted += n
		}
		_ = bar.Add(len(batch))
	}
	_ = bar.Finish()

	logger.Info("indexing complete",
		zap.String("model", info.Name),
		zap.Int("documents", len(docs)),
		zap.Int("submitted", submitted),
	)
	return nil
}

// parseFilters turns a query-string --params value into ORM equality
// filters. Repeated keys keep the first value.
func parseFilters(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid --params: %w", err)
	}
	filters := make(map[string]any, len(values))
	for k, vs := range values {
		if len(vs) > 0 {
			filters[k] = vs[0]
		}
	}
	return filters, nil
}
