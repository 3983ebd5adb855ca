package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/liliang-cn/semroute/pkg/embedding/openai"
	"github.com/liliang-cn/semroute/pkg/router"
	"github.com/liliang-cn/semroute/pkg/sqlite"
)

var (
	dbPath      string
	verbose     bool
	topK        int
	threshold   float64
	aggregation string
)

var rootCmd = &cobra.Command{
	Use:   "semroute",
	Short: "CLI for the semantic route layer",
	Long:  `Manage and query a SQLite-backed semantic router: register routes from YAML files, then classify utterances against them.`,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the route database",
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := openIndex()
		if err != nil {
			return err
		}
		defer idx.Close()

		fmt.Printf("Route database initialized at %s\n", dbPath)
		return nil
	},
}

// routeFile is the YAML layout consumed by `semroute add`.
type routeFile struct {
	Routes []struct {
		Name        string   `yaml:"name"`
		Description string   `yaml:"description,omitempty"`
		Threshold   *float64 `yaml:"threshold,omitempty"`
		Utterances  []string `yaml:"utterances"`
	} `yaml:"routes"`
}

var addCmd = &cobra.Command{
	Use:   "add <routes.yaml>",
	Short: "Embed and register routes from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read route file: %w", err)
		}

		var file routeFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return fmt.Errorf("invalid route file: %w", err)
		}
		if len(file.Routes) == 0 {
			return fmt.Errorf("route file contains no routes")
		}

		routes := make([]router.Route, 0, len(file.Routes))
		for _, entry := range file.Routes {
			builder := router.NewRoute(entry.Name).
				WithUtterances(entry.Utterances...).
				WithDescription(entry.Description)
			if entry.Threshold != nil {
				builder = builder.WithThreshold(*entry.Threshold)
			}
			route, err := builder.Build()
			if err != nil {
				return err
			}
			routes = append(routes, *route)
		}

		embedder, err := embedderFromEnv()
		if err != nil {
			return err
		}
		idx, err := openIndex()
		if err != nil {
			return err
		}
		defer idx.Close()

		ctx := context.Background()
		layer, err := router.NewRouteLayerBuilder().
			WithEmbedder(embedder).
			WithIndex(idx).
			AddRoutes(routes...).
			WithLogger(cliLogger()).
			Build(ctx)
		if err != nil {
			return err
		}

		stored, err := layer.Routes(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Registered %d routes (%d total in index)\n", len(routes), len(stored))
		return nil
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Classify an utterance against the registered routes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		embedder, err := embedderFromEnv()
		if err != nil {
			return err
		}
		idx, err := openIndex()
		if err != nil {
			return err
		}
		defer idx.Close()

		ctx := context.Background()
		stored, err := idx.Routes(ctx)
		if err != nil {
			return err
		}
		if len(stored) == 0 {
			return fmt.Errorf("no routes registered; run 'semroute add' first")
		}

		layer, err := router.NewRouteLayerBuilder().
			WithEmbedder(embedder).
			WithIndex(idx).
			AddRoutes(stored...).
			WithThreshold(threshold).
			WithTopK(topK).
			WithAggregation(router.ParseAggregationMethod(aggregation)).
			WithLogger(cliLogger()).
			Build(ctx)
		if err != nil {
			return err
		}

		match, err := layer.Route(ctx, args[0])
		if err != nil {
			return err
		}
		if match == nil {
			fmt.Println("No route matched")
			return nil
		}
		fmt.Printf("%s (score %.4f)\n", match.Route, match.Score)
		return nil
	},
}

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "List registered routes",
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := openIndex()
		if err != nil {
			return err
		}
		defer idx.Close()

		routes, err := idx.Routes(context.Background())
		if err != nil {
			return err
		}
		if len(routes) == 0 {
			fmt.Println("No routes registered")
			return nil
		}
		for _, route := range routes {
			line := fmt.Sprintf("%s: %d utterances", route.Name, len(route.Embeddings))
			if route.Threshold != nil {
				line += fmt.Sprintf(", threshold %.2f", *route.Threshold)
			}
			if route.Description != "" {
				line += " - " + route.Description
			}
			fmt.Println(line)
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <route>",
	Short: "Delete a route and all its utterances",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := openIndex()
		if err != nil {
			return err
		}
		defer idx.Close()

		if err := idx.Delete(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Route %q deleted\n", args[0])
		return nil
	},
}

var dropCmd = &cobra.Command{
	Use:   "drop",
	Short: "Tear down the whole index",
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := openIndex()
		if err != nil {
			return err
		}
		defer idx.Close()

		if err := idx.DeleteIndex(context.Background()); err != nil {
			return err
		}
		fmt.Println("Index dropped")
		return nil
	},
}

func openIndex() (*sqlite.Index, error) {
	idx, err := sqlite.New(dbPath, sqlite.WithLogger(cliLogger()))
	if err != nil {
		return nil, err
	}
	if err := idx.Init(context.Background()); err != nil {
		return nil, err
	}
	return idx, nil
}

func embedderFromEnv() (*openai.Embedder, error) {
	token := os.Getenv("OPENAI_API_KEY")
	if token == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is not set")
	}

	opts := []openai.Option{openai.WithToken(token)}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	if model := os.Getenv("EMBEDDING_MODEL"); model != "" {
		opts = append(opts, openai.WithModel(model))
	}
	return openai.New(opts...)
}

func cliLogger() router.Logger {
	if verbose {
		return router.NewLogger(os.Stderr, router.LevelDebug)
	}
	return router.NopLogger()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "semroute.db", "Path to the route database")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	queryCmd.Flags().IntVar(&topK, "top-k", router.DefaultTopK, "Nearest neighbors fetched per query")
	queryCmd.Flags().Float64Var(&threshold, "threshold", router.DefaultThreshold, "Default acceptance threshold")
	queryCmd.Flags().StringVar(&aggregation, "aggregation", "mean", "Score aggregation: mean, max or sum")

	rootCmd.AddCommand(initCmd, addCmd, queryCmd, routesCmd, deleteCmd, dropCmd)
}

func main() {
	// Best effort: a missing .env is fine, the environment may already be set.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
