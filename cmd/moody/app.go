package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jacentio/moody/internal/config"
	"github.com/jacentio/moody/internal/logging"
	"github.com/jacentio/moody/model"
	"github.com/jacentio/moody/scenario"
	"github.com/jacentio/moody/store"
	"github.com/jacentio/moody/store/memstore"
)

// app is the state shared by every command.
type app struct {
	v          *viper.Viper
	configFile string
	schemaFile string
	seed       []string

	config   *config.Config
	logger   *zap.Logger
	registry *model.Registry
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}

	root := &cobra.Command{
		Use:           "moody",
		Short:         "Import scenarios into and query schema-defined document models",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			return a.setup(cmd.Context())
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.close()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (yaml or json)")
	flags.StringVar(&a.schemaFile, "schema", "schema.json", "schema file mapping model names to schemas")
	flags.StringSliceVar(&a.seed, "seed", nil, "scenario glob patterns imported before the command runs")
	flags.Bool("memory", false, "use the in-process store instead of DynamoDB")
	flags.String("endpoint", "", "DynamoDB endpoint override")
	flags.String("region", "", "AWS region")
	flags.String("table-prefix", "", "prefix prepended to model names to form table names")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.Bool("force-scan", false, "disable index selection")
	for key, flag := range map[string]string{
		"memory":                "memory",
		"dynamodb.endpoint":     "endpoint",
		"dynamodb.region":       "region",
		"dynamodb.table_prefix": "table-prefix",
		"log.level":             "log-level",
		"force_scan":            "force-scan",
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(
		newScenarioCmd(a),
		newFindCmd(a),
		newCountCmd(a),
	)
	return root
}

// setup loads configuration, builds the logger and defines every model of the
// schema file against its table.
func (a *app) setup(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(a.v, a.configFile)
	if err != nil {
		return err
	}
	a.config = cfg

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	a.logger = logger

	schemas, err := loadSchemas(a.schemaFile)
	if err != nil {
		return err
	}

	opts := cfg.Options()
	opts.Logger = logger
	reg, err := model.NewRegistry(opts)
	if err != nil {
		return err
	}
	a.registry = reg

	var client *dynamodb.Client
	if !cfg.Memory {
		client, err = newDynamoDBClient(ctx, cfg.DynamoDB)
		if err != nil {
			return err
		}
	}

	names := make([]string, 0, len(schemas))
	for name := range schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		schema := schemas[name]
		tableName := cfg.TableName(name)
		storeConfig := cfg.Store(schema.IDField())

		var table model.Table
		if cfg.Memory {
			table = memstore.New(tableName, storeConfig, logger)
		} else {
			table = store.New(client, tableName, storeConfig, logger)
		}
		if _, err := reg.Define(name, schema, table); err != nil {
			return err
		}
	}

	if len(a.seed) > 0 {
		if _, err := a.importScenario(ctx, a.seed); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}
	return nil
}

func (a *app) close() error {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	if a.registry != nil {
		return a.registry.Close()
	}
	return nil
}

func (a *app) importScenario(ctx context.Context, patterns []string) (*scenario.Stats, error) {
	in, err := scenario.Load(patterns...)
	if err != nil {
		return nil, err
	}
	r := scenario.NewResolver(a.registry, scenario.DefaultConfig(), a.logger)
	return r.Run(ctx, in)
}

func newDynamoDBClient(ctx context.Context, cfg config.DynamoDB) (*dynamodb.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// loadSchemas reads a JSON object mapping model names to schemas.
func loadSchemas(path string) (map[string]model.Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	var schemas map[string]model.Schema
	if err := json.Unmarshal(data, &schemas); err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", path, err)
	}
	if len(schemas) == 0 {
		return nil, fmt.Errorf("%w: %s defines no models", model.ErrInvalidSchema, path)
	}
	return schemas, nil
}
