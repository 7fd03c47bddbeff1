package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/ternarybob/arbor"

	"github.com/lun1tunes/InstaChatico/internal/common"
	"github.com/lun1tunes/InstaChatico/internal/services/catalog"
	"github.com/lun1tunes/InstaChatico/internal/services/embeddings"
	"github.com/lun1tunes/InstaChatico/internal/services/llm"
	"github.com/lun1tunes/InstaChatico/internal/storage"
)

// runCatalog handles the `catalog` subcommand: importing a YAML catalog file
// (embedding every entry on the way in) and listing the active entries.
// It opens the store directly instead of starting the full application.
func runCatalog(args []string) {
	fs := flag.NewFlagSet("catalog", flag.ExitOnError)
	var files configPaths
	fs.Var(&files, "config", "Configuration file path (can be specified multiple times)")
	fs.Var(&files, "c", "Configuration file path (shorthand)")
	importFile := fs.String("file", "", "YAML catalog file to import")
	list := fs.Bool("list", false, "List active catalog entries")
	category := fs.String("category", "", "Restrict -list to one category")

	if err := fs.Parse(args); err != nil {
		os.Exit(2)
	}

	if *importFile == "" && !*list {
		fmt.Fprintln(os.Stderr, "catalog: either -file or -list is required")
		fs.Usage()
		os.Exit(2)
	}

	if len(files) == 0 {
		if _, err := os.Stat("instachatico.toml"); err == nil {
			files = append(files, "instachatico.toml")
		}
	}
	configFiles = files

	config, err := common.LoadFromFiles(files...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Strs("paths", files).Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}
	logger := common.InitLogger(config)

	storageManager, err := storage.NewStorageManager(logger, config)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer storageManager.Close()

	ctx := context.Background()

	if *list {
		entries, err := storageManager.CatalogStorage().ListActive(ctx, *category)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to list catalog entries")
		}
		for _, e := range entries {
			fmt.Printf("%s\t%s\t%s\n", e.ID, e.Category, e.Title)
		}
		fmt.Printf("%d active entries\n", len(entries))
		return
	}

	llmService, err := llm.NewService(ctx, config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize LLM service (embeddings require a provider API key)")
	}
	defer llmService.Close()

	embedder := embeddings.NewService(llmService, config.Search.EmbeddingDimension, logger)
	importer := catalog.NewImporter(storageManager.CatalogStorage(), embedder, logger)

	result, err := importer.ImportFile(ctx, *importFile)
	if err != nil {
		logger.Fatal().Err(err).Str("file", *importFile).Msg("Catalog import failed")
	}

	fmt.Printf("imported %d entries (%d created, %d updated) from %s\n",
		result.Total(), result.Created, result.Updated, *importFile)
}
