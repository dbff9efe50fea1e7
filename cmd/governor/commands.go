package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Rogers-F/mutation-governor/internal/domain"
	"github.com/Rogers-F/mutation-governor/internal/ipc"
)

func serveCmd() *cobra.Command {
	var evalEvery time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, cfg, logger, err := openRuntime()
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer rt.Close()

			rt.Loop.OnEscalation(func(e domain.Escalation) {
				logger.Warn("operator attention required",
					zap.String("error_type", string(e.ErrorType)),
					zap.String("error", e.Error))
			})

			srv := ipc.NewServer(&ipc.Handler{Loop: rt.Loop, Audit: rt.Audit, Logger: logger}, cfg.ListenAddr)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			g, ctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				logger.Info("mutation governor listening",
					zap.String("url", ipc.FormatListenURL(cfg.ListenAddr)),
					zap.String("instance", cfg.InstanceID))
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server error: %w", err)
				}
				return nil
			})

			if evalEvery > 0 {
				g.Go(func() error {
					ticker := time.NewTicker(evalEvery)
					defer ticker.Stop()
					for {
						select {
						case <-ctx.Done():
							return nil
						case <-ticker.C:
							if _, err := rt.Loop.EvaluateFitness(ctx); err != nil {
								logger.Warn("fitness evaluation", zap.Error(err))
							}
						}
					}
				})
			}

			g.Go(func() error {
				<-ctx.Done()
				logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})

			return g.Wait()
		},
	}
	cmd.Flags().DurationVar(&evalEvery, "evaluate-every", 0, "run the fitness evaluation cycle on this period (0 disables)")
	return cmd
}

func dnaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dna",
		Short: "Print the current DNA",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, _, logger, err := openRuntime()
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer rt.Close()

			d, err := rt.Loop.GetDNA(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(d)
			}
			fmt.Printf("version:     %s\n", d.Version)
			fmt.Printf("generation:  %d\n", d.Generation)
			fmt.Printf("fitness:     %.2f\n", d.FitnessScore)
			fmt.Printf("mutations:   %d\n", len(d.Mutations))
			fmt.Printf("snapshots:   %d\n", len(d.SnapshotIDs))
			return nil
		},
	}
}

func proposeCmd() *cobra.Command {
	var (
		m      domain.Mutation
		mType  string
		traits string
		prio   int
	)
	cmd := &cobra.Command{
		Use:   "propose",
		Short: "Propose a mutation in a one-shot session",
		Long: `Propose a mutation against the stored DNA.

Each invocation is its own session: the mutation budget starts fresh and a
proposal queued for review is dropped when the command exits. Run
"governor serve" and propose over the HTTP API to review queued mutations.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			m.Type = domain.MutationType(mType)
			m.Priority = domain.Priority(prio)
			if traits != "" {
				if err := json.Unmarshal([]byte(traits), &m.Traits); err != nil {
					return fmt.Errorf("parse --traits: %w", err)
				}
			}

			rt, _, logger, err := openRuntime()
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer rt.Close()

			res, err := rt.Loop.ProposeMutation(cmd.Context(), m)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(res)
			}
			fmt.Print(describeProposal(res))
			return nil
		},
	}
	cmd.Flags().StringVar(&mType, "type", "", "mutation type")
	cmd.Flags().StringVar(&m.Description, "description", "", "what the mutation changes")
	cmd.Flags().Float64Var(&m.FitnessImpact, "impact", 0, "expected fitness impact")
	cmd.Flags().StringVar(&m.Source, "source", "operator", "proposer name")
	cmd.Flags().IntVar(&prio, "priority", int(domain.PriorityNormal), "review priority 1-10")
	cmd.Flags().StringVar(&traits, "traits", "", "JSON object of trait changes")
	cmd.MarkFlagRequired("type")
	return cmd
}

func describeProposal(res domain.ProposalResult) string {
	out := fmt.Sprintf("risk: %.2f (%s)\n", res.Risk, res.RiskLevel)
	switch {
	case res.RequestID != "":
		out += fmt.Sprintf("queued for review: %s\n", res.RequestID)
		out += "not applied: this request ends with the command; use \"governor serve\" to review proposals\n"
	case res.Result != nil && res.Result.Success:
		out += fmt.Sprintf("applied %s, generation %d\n", res.Result.MutationID, res.Result.NewGeneration)
	case res.Result != nil:
		out += fmt.Sprintf("failed: %s\n", res.Result.Error)
	}
	return out
}

func snapshotCmd() *cobra.Command {
	var label string
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Capture a labelled snapshot of the current DNA",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, _, logger, err := openRuntime()
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer rt.Close()

			snap, err := rt.Loop.CreateSnapshot(cmd.Context(), label)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(snap)
			}
			fmt.Printf("%s  generation %d  %s\n", snap.ID, snap.Metadata.Generation, snap.Label)
			return nil
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "snapshot label")
	return cmd
}

func snapshotsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "List retained snapshots, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, _, logger, err := openRuntime()
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer rt.Close()

			snaps, err := rt.Loop.ListSnapshots(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(snaps)
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tGENERATION\tFITNESS\tTAKEN\tLABEL")
			for _, s := range snaps {
				fmt.Fprintf(tw, "%s\t%d\t%.2f\t%s\t%s\n", s.ID, s.Metadata.Generation, s.Metadata.FitnessScore,
					s.Timestamp.Format(time.RFC3339), s.Label)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum snapshots to list (0 for all)")
	return cmd
}

func rollbackCmd() *cobra.Command {
	var generation int64
	cmd := &cobra.Command{
		Use:   "rollback [snapshot-id]",
		Short: "Restore DNA from a snapshot id or the latest snapshot of a generation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 0) == (generation == 0) {
				return errors.New("give exactly one of a snapshot id or --generation")
			}

			rt, _, logger, err := openRuntime()
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer rt.Close()

			var res domain.RollbackResult
			if generation > 0 {
				res = rt.Loop.RollbackToGeneration(cmd.Context(), generation)
			} else {
				res = rt.Loop.RollbackTo(cmd.Context(), args[0])
			}
			if jsonOutput {
				if err := printJSON(res); err != nil {
					return err
				}
			} else if res.Success {
				fmt.Printf("restored %s, generation %d\n", res.SnapshotID, res.RestoredGeneration)
				if !res.VerificationPassed {
					fmt.Println("warning: restored DNA checksum differs from the snapshot")
				}
			}
			if !res.Success {
				return fmt.Errorf("rollback failed: %s", res.Error)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&generation, "generation", 0, "restore the latest snapshot taken at this generation")
	return cmd
}

func healCmd() *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:   "heal <error-type>",
		Short: "Run the healing ladder for a reported error type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var hctx map[string]any
			if data != "" {
				if err := json.Unmarshal([]byte(data), &hctx); err != nil {
					return fmt.Errorf("parse --context: %w", err)
				}
			}

			rt, _, logger, err := openRuntime()
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer rt.Close()

			res := rt.Loop.Heal(cmd.Context(), args[0], hctx)
			if jsonOutput {
				return printJSON(res)
			}
			fmt.Printf("%s: success=%t strategy=%s attempts=%d escalated=%t\n",
				res.ErrorType, res.Success, res.StrategyUsed, res.Attempts, res.Escalated)
			return nil
		},
	}
	cmd.Flags().StringVar(&data, "context", "", "JSON object passed to the strategies")
	return cmd
}

func fallbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fallback",
		Short: "List writes parked in the local fallback store",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, _, logger, err := openRuntime()
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer rt.Close()

			if rt.Local == nil {
				return errors.New("no local_store_path configured")
			}
			entries, err := rt.FallbackEntries(cmd.Context())
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Printf("%s\t%s\n", e.Key, e.Value)
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("governor %s (commit=%s, built=%s)\n", version, commit, date)
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
