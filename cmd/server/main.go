package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Sanidhya1398/uw-decision-support/internal/config"
	"github.com/Sanidhya1398/uw-decision-support/internal/models"
	"github.com/Sanidhya1398/uw-decision-support/internal/server"
)

var (
	configPath string
	trainModel string
	trainForce bool

	rootCmd = &cobra.Command{
		Use:          "uwml",
		Short:        "Underwriting decision support ML service",
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and gRPC health server",
		RunE:  runServe,
	}

	trainCmd = &cobra.Command{
		Use:   "train",
		Short: "Run one training job in the foreground and deploy the result",
		RunE:  runTrain,
	}

	versionsCmd = &cobra.Command{
		Use:   "versions",
		Short: "List stored model versions, newest first",
		RunE:  runVersions,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), versionString())
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")

	trainCmd.Flags().StringVar(&trainModel, "model", string(models.ModelTypeComplexity), "Model type to train (complexity|test_yield)")
	trainCmd.Flags().BoolVar(&trainForce, "force", false, "Train even below the minimum sample count")

	rootCmd.AddCommand(serveCmd, trainCmd, versionsCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads configuration and builds the logger
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := initLogger(cfg.Logging, cfg.IsProduction())
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("Starting UW ML service",
		zap.String("version", Version()),
		zap.String("environment", cfg.Environment),
		zap.String("http_addr", cfg.HTTPAddr()),
		zap.String("grpc_addr", cfg.GRPCAddr()),
		zap.String("model_dir", cfg.ML.ModelDir))

	srv, err := server.NewServer(cfg, logger)
	if err != nil {
		logger.Error("Failed to create server", zap.Error(err))
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go GracefulShutdown(cancel, logger)

	if err := srv.Run(ctx); err != nil {
		logger.Error("Server failed", zap.Error(err))
		return err
	}
	return nil
}

func runTrain(cmd *cobra.Command, args []string) error {
	modelType := models.ModelType(trainModel)
	if !modelType.Valid() {
		return fmt.Errorf("invalid model type %q: expected complexity or test_yield", trainModel)
	}

	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	components, err := server.NewComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	ctx := context.Background()
	if _, err := components.Manager.LoadAll(ctx); err != nil {
		return err
	}

	result, trainErr := components.Trainer.Train(ctx, modelType, trainForce)
	if result != nil {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	}
	return trainErr
}

func runVersions(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	components, err := server.NewComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	versions, err := components.Manager.AvailableVersions(context.Background())
	if err != nil {
		return err
	}
	for _, v := range versions {
		fmt.Fprintln(cmd.OutOrStdout(), v)
	}
	return nil
}
