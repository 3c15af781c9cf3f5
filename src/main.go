// Copyright (c) 2026 Khaled Abbas
//
// This source code is licensed under the Business Source License 1.1.
//
// Change Date: 4 years after the first public release of this version.
// Change License: MIT
//
// On the Change Date, this version of the code automatically converts
// to the MIT License. Prior to that date, use is subject to the
// Additional Use Grant. See the LICENSE file for details.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docker/docker/client"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"resqenv/src/dataset"
	"resqenv/src/env"
	"resqenv/src/logging"
	"resqenv/src/model"
	"resqenv/src/provisioner"
	"resqenv/src/resultstore"
)

func main() {
	root := &cobra.Command{
		Use:           "resqenv",
		Short:         "Evaluate candidate patches against benchmark tasks in isolated runtimes",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newSubmitCommand(), newCleanupCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newSubmitCommand() *cobra.Command {
	var (
		submissionsFile string
		envTempDir      string
		datasetFile     string
		resultsFile     string
		persist         bool
		enablePbar      bool
		nWorkers        int
		timeout         time.Duration
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Evaluate a batch of submissions and write a results file",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			otelShutdown, err := logging.SetupOTelSDK(ctx)
			if err != nil {
				return fmt.Errorf("setup OTel SDK: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := otelShutdown(shutdownCtx); err != nil {
					fmt.Fprintf(os.Stderr, "OTel shutdown error: %v\n", err)
				}
			}()

			submissions, err := loadSubmissions(submissionsFile)
			if err != nil {
				return err
			}
			ds, err := dataset.FromJSON(datasetFile)
			if err != nil {
				return err
			}

			cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
			if err != nil {
				return fmt.Errorf("create docker client: %w", err)
			}
			defer cli.Close()

			submissionEnv, err := env.New(ctx, ds, cli, env.Options{
				TempDir: envTempDir,
				Timeout: timeout,
				Persist: persist,
			})
			if err != nil {
				return err
			}
			defer submissionEnv.Close(context.Background())

			if port := os.Getenv("RESQ_STATUS_PORT"); port != "" {
				go func() {
					if err := startStatusServer(ctx, port, submissionEnv.Stats()); err != nil {
						logging.Log(fmt.Sprintf("Status server error: %v", err), slog.LevelError)
					}
				}()
			}

			var progress func(model.SubmissionResult)
			if enablePbar {
				bar := progressbar.NewOptions(len(submissions),
					progressbar.OptionSetDescription("Processing submissions"),
					progressbar.OptionShowCount(),
					progressbar.OptionClearOnFinish(),
				)
				progress = func(model.SubmissionResult) { _ = bar.Add(1) }
			}

			started := time.Now()
			results, err := submissionEnv.StepBatch(ctx, submissions, nWorkers, progress)
			if err != nil {
				return err
			}

			if err := writeResults(resultsFile, results); err != nil {
				return err
			}

			if dsn := os.Getenv("RESQ_RESULTS_DSN"); dsn != "" {
				if err := saveToDatabase(ctx, dsn, submissionEnv.Stats().Snapshot().RunID, results); err != nil {
					logging.Log(fmt.Sprintf("Failed to record results in database: %v", err), slog.LevelError)
				}
			}

			fmt.Printf("Processed %d submissions in %.2f seconds\n", len(submissions), time.Since(started).Seconds())
			return nil
		},
	}

	cmd.Flags().StringVar(&submissionsFile, "submissions-file", "", "Path to JSON file containing submissions")
	cmd.Flags().StringVar(&envTempDir, "env-temp-dir", "", "Where to build the submission environment's temporary files")
	cmd.Flags().StringVar(&datasetFile, "dataset-file", "", "Path to benchmark dataset JSON file")
	cmd.Flags().StringVar(&resultsFile, "results-file", "results.json", "JSON file to write the results to")
	cmd.Flags().BoolVar(&persist, "persist-env", true, "Persist generated environment state for future runs")
	cmd.Flags().BoolVar(&enablePbar, "pbar", false, "Show a progress bar")
	cmd.Flags().IntVar(&nWorkers, "n-workers", 1, "Number of concurrent workers")
	cmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "Per-submission test timeout")
	_ = cmd.MarkFlagRequired("submissions-file")
	_ = cmd.MarkFlagRequired("env-temp-dir")
	_ = cmd.MarkFlagRequired("dataset-file")

	return cmd
}

func newCleanupCommand() *cobra.Command {
	var envTempDir string

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove runtime environment containers and, optionally, a temp directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
			if err != nil {
				return fmt.Errorf("create docker client: %w", err)
			}
			defer cli.Close()

			removed, err := provisioner.RemoveEnvContainers(ctx, cli)
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d runtime environment container(s)\n", removed)

			if envTempDir != "" {
				if err := os.RemoveAll(envTempDir); err != nil {
					return fmt.Errorf("remove temp directory: %w", err)
				}
				fmt.Printf("Removed temp directory %s\n", envTempDir)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&envTempDir, "env-temp-dir", "", "Environment temp directory to delete after container cleanup")
	return cmd
}

func loadSubmissions(path string) ([]model.Submission, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read submissions file: %w", err)
	}
	var entries []struct {
		ID    string `json:"id"`
		Patch string `json:"patch"`
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse submissions file %s: %w", path, err)
	}

	submissions := make([]model.Submission, 0, len(entries))
	for i, entry := range entries {
		sub, err := model.NewSubmission(entry.ID, entry.Patch)
		if err != nil {
			return nil, fmt.Errorf("submission %d: %w", i, err)
		}
		submissions = append(submissions, sub)
	}
	return submissions, nil
}

func writeResults(path string, results []model.SubmissionResult) error {
	raw, err := json.MarshalIndent(results, "", "    ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write results file: %w", err)
	}
	return nil
}

func saveToDatabase(ctx context.Context, dsn, runID string, results []model.SubmissionResult) error {
	store, err := resultstore.Open(ctx, dsn)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Save(ctx, runID, results)
}
