package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/josedab/pocket-go/pkg/collection"
	"github.com/josedab/pocket-go/pkg/config"
	"github.com/josedab/pocket-go/pkg/db"
	"github.com/josedab/pocket-go/pkg/log"
	"github.com/josedab/pocket-go/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pocket",
	Short: "Pocket - reactive embedded document database",
	Long: `Pocket is a reactive, document-oriented embedded database with live
queries, incrementally maintained views, branching and snapshots,
a columnar time-series store and vector search.

This CLI is a thin shell over the library: it opens a database file
and lets you inspect, query and load data.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Pocket version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("db", "pocket.db", "Database file path")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(ingestCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Setup(config.LogConfig{Level: level, JSON: jsonOut}, os.Stdout)
}

func openDatabase(cmd *cobra.Command) (*db.Database, error) {
	path, _ := cmd.Flags().GetString("db")
	cfg := config.Default()
	cfg.Adapter = "bolt"
	cfg.Path = path
	return db.Open(context.Background(), cfg)
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show database statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer database.Close()

		for _, name := range database.Adapter().ListStores() {
			if _, err := database.Collection(name, collection.Options{}); err != nil {
				return err
			}
		}
		stats := database.Stats()

		fmt.Printf("Adapter:     %s\n", stats.Adapter.Adapter)
		fmt.Printf("Stores:      %d\n", stats.Adapter.Stores)
		fmt.Printf("Documents:   %d\n", stats.Adapter.Documents)
		fmt.Printf("Tombstones:  %d\n", stats.Adapter.Tombstones)
		for _, c := range stats.Collections {
			fmt.Printf("  %-24s %d documents\n", c.Name, c.Documents)
		}
		return nil
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <collection>",
	Short: "Run a query against a collection",
	Long: `Run a declarative query. The filter is a JSON predicate tree:

  pocket query users --filter '{"status":"active","score":{"$gte":90}}' --limit 10`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer database.Close()

		coll, err := database.Collection(args[0], collection.Options{})
		if err != nil {
			return err
		}

		filterJSON, _ := cmd.Flags().GetString("filter")
		limit, _ := cmd.Flags().GetInt("limit")

		var filter map[string]any
		if filterJSON != "" {
			if err := json.Unmarshal([]byte(filterJSON), &filter); err != nil {
				return fmt.Errorf("failed to parse filter: %w", err)
			}
		}

		docs, err := coll.Find(cmd.Context(), types.QuerySpec{Filter: filter, Limit: limit})
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		for _, doc := range docs {
			if err := enc.Encode(doc); err != nil {
				return err
			}
		}
		return nil
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <collection>",
	Short: "Load documents from a JSON file",
	Long: `Load documents into a collection. The input file holds a JSON array
of objects; objects without an _id get a generated one.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
		var docs []types.Document
		if err := json.Unmarshal(data, &docs); err != nil {
			return fmt.Errorf("failed to parse documents: %w", err)
		}

		database, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer database.Close()

		coll, err := database.Collection(args[0], collection.Options{Timestamps: true})
		if err != nil {
			return err
		}
		for _, doc := range docs {
			if _, err := coll.Upsert(cmd.Context(), doc); err != nil {
				return err
			}
		}
		fmt.Printf("Ingested %d documents into %q\n", len(docs), args[0])
		return nil
	},
}

func init() {
	queryCmd.Flags().String("filter", "", "JSON filter predicate")
	queryCmd.Flags().Int("limit", 0, "Maximum results (0 = unlimited)")
	ingestCmd.Flags().StringP("file", "f", "", "JSON file with a document array (required)")
	_ = ingestCmd.MarkFlagRequired("file")
}
