package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/J3rr1ck/CamBridge/pkg/config"
	"github.com/J3rr1ck/CamBridge/pkg/provider"
	"github.com/J3rr1ck/CamBridge/pkg/server"
	"github.com/J3rr1ck/CamBridge/pkg/utils"
)

var logger *zap.SugaredLogger

func main() {
	logger = utils.GetLogger()
	defer logger.Sync()

	root := &cobra.Command{
		Use:   "cambridge",
		Short: "UVC camera HAL with a debug/monitoring surface",
		RunE:  run,
	}
	flags := root.Flags()
	flags.String("config", "", "path to TOML config file")
	flags.String("dev-dir", "", "directory watched for video nodes")
	flags.Int("port", 0, "debug HTTP port")
	flags.Int("depth", 0, "pipeline depth (V4L2 pool and output ring size)")

	if err := root.Execute(); err != nil {
		logger.Error(err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}

	prv := provider.New(provider.Options{
		DevDir:            cfg.DevDir,
		PipelineDepth:     cfg.PipelineDepth,
		LensFacing:        cfg.LensFacing,
		SensorOrientation: cfg.SensorOrientation,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := prv.StartDiscovery(ctx); err != nil {
		return err
	}
	defer prv.StopDiscovery()

	srv := server.New(prv, cfg.RecordDir)
	defer srv.Shutdown()

	logger.Infof("cambridge listening on :%d, watching %s", cfg.Port, cfg.DevDir)
	utils.ListenAndServe(srv.Router(), cfg.Port)
	return nil
}

// loadConfig layers explicit flags over the TOML file over the defaults.
func loadConfig(flags *pflag.FlagSet) (config.Config, error) {
	path, _ := flags.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if flags.Changed("dev-dir") {
		cfg.DevDir, _ = flags.GetString("dev-dir")
	}
	if flags.Changed("port") {
		cfg.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("depth") {
		cfg.PipelineDepth, _ = flags.GetInt("depth")
		if cfg.PipelineDepth < 3 {
			cfg.PipelineDepth = 3
		}
	}
	return cfg, nil
}
