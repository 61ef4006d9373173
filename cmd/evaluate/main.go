package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/Brownie44l1/tbscan/internal/evaluate"
	"github.com/Brownie44l1/tbscan/internal/logging"
	"github.com/Brownie44l1/tbscan/internal/model"
)

func main() {
	var (
		modelPath    = flag.String("model", "models/tb_model.onnx", "ONNX classifier artifact")
		metadataPath = flag.String("metadata", "", "optional metadata JSON sidecar")
		libraryPath  = flag.String("onnxruntime", os.Getenv("TBX_MODEL_LIBRARY_PATH"), "path to the onnxruntime shared library")
		datasetDir   = flag.String("dataset", "dataset", "directory with Normal/ and Tuberculosis/ subdirectories")
		workers      = flag.Int("workers", runtime.NumCPU(), "concurrent inference workers")
		maxBytes     = flag.Int64("max-bytes", 10<<20, "largest image file accepted")
		asJSON       = flag.Bool("json", false, "print the report as JSON")
		logLevel     = flag.String("log-level", "info", "debug, info, warn or error")
	)
	flag.Parse()

	logger := logging.New(os.Stderr, *logLevel, "text")

	if info, err := os.Stat(*modelPath); err == nil {
		logger.Info("artifact", "path", *modelPath, "size_mb", fmt.Sprintf("%.2f", float64(info.Size())/(1<<20)))
	}

	if err := model.InitRuntime(*libraryPath); err != nil {
		logger.Error("onnxruntime unavailable", logging.Err(err))
		os.Exit(1)
	}
	defer model.ShutdownRuntime()

	session, err := model.NewSession(*modelPath, *metadataPath)
	if err != nil {
		logger.Error("failed to load model", "path", *modelPath, logging.Err(err))
		os.Exit(1)
	}
	defer session.Close()

	samples, err := evaluate.Discover(*datasetDir)
	if err != nil {
		logger.Error("failed to read dataset", logging.Err(err))
		os.Exit(1)
	}
	logger.Info("evaluating", "images", len(samples), "workers", *workers)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	report, err := evaluate.Run(ctx, session, samples, evaluate.Options{Workers: *workers, MaxBytes: *maxBytes})
	if err != nil {
		logger.Error("evaluation failed", logging.Err(err))
		os.Exit(1)
	}
	logger.Info("done", "elapsed", time.Since(start).Round(time.Millisecond))

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		err = enc.Encode(report.Summary())
	} else {
		err = report.WriteText(os.Stdout)
	}
	if err != nil {
		logger.Error("failed to write report", logging.Err(err))
		os.Exit(1)
	}
}
