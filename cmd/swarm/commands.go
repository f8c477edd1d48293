package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"btc-agent-swarm/internal/eod"
	"btc-agent-swarm/internal/logger"
	"btc-agent-swarm/internal/swarm"
	"btc-agent-swarm/internal/types"
)

const (
	shutdownTimeout  = 30 * time.Second
	eodCheckInterval = 10 * time.Minute
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// oneShot builds the swarm for a single query with order placement
// disabled, optionally refreshing every agent first.
func oneShot(ctx context.Context, o *rootOptions, refresh bool) (*app, error) {
	a, err := buildApp(ctx, o)
	if err != nil {
		return nil, err
	}
	_ = a.coord.SetAutoExecute(ctx, false)
	if refresh {
		a.refresh(ctx)
	}
	return a, nil
}

func newRunCmd(o *rootOptions) *cobra.Command {
	var resume bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the swarm and block until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, o)
			if err != nil {
				return err
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				a.close(sctx)
			}()

			if resume && !a.coord.ShouldResume(ctx) {
				logger.Info(ctx, "Swarm was stopped when last persisted, not resuming")
				return nil
			}
			if err := a.coord.Start(ctx); err != nil {
				return err
			}

			summarizer := eod.New(a.journal.Dir())
			eodTick := time.NewTicker(eodCheckInterval)
			defer eodTick.Stop()
			for {
				select {
				case <-eodTick.C:
					if ok, day := summarizer.ShouldRunNow(); ok {
						if p, err := summarizer.SummarizeDay(ctx, day); err == nil && p != "" {
							logger.Info(ctx, "EOD CSV written", "path", p)
						}
					}
				case <-ctx.Done():
					sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
					defer cancel()
					logger.Info(sctx, "Shutting down...")
					err := a.coord.Stop(sctx)
					if p, serr := summarizer.SummarizeToday(sctx); serr == nil && p != "" {
						logger.Info(sctx, "EOD CSV written", "path", p)
					}
					return err
				}
			}
		},
	}
	cmd.Flags().BoolVar(&resume, "resume", false, "start only if the swarm was running when last persisted")
	return cmd
}

func newStatusCmd(o *rootOptions) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print a one-shot swarm status as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := oneShot(ctx, o, refresh)
			if err != nil {
				return err
			}
			defer a.close(ctx)
			return printJSON(cmd.OutOrStdout(), a.coord.GetStatus(ctx))
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "run one tick of every agent first")
	return cmd
}

func newChatCmd(o *rootOptions) *cobra.Command {
	var (
		session string
		refresh bool
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "chat MESSAGE...",
		Short: "Ask the agents a question",
		Long:  "chat routes a question to the agents whose keywords match it (or to all of them) and prints their answers.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := oneShot(ctx, o, refresh)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			resp, err := a.coord.Router().Chat(ctx, strings.Join(args, " "), session)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			out := cmd.OutOrStdout()
			for _, r := range resp.Replies {
				fmt.Fprintf(out, "[%s] %s\n", r.AgentID, r.Text)
			}
			if missing := len(resp.Routed) - len(resp.Replies); missing > 0 {
				fmt.Fprintf(out, "(%d agent(s) did not answer in time)\n", missing)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "continue an existing session")
	cmd.Flags().BoolVar(&refresh, "refresh", true, "run one tick of every agent first")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw response as JSON")
	return cmd
}

func parseDirection(s string) (types.Direction, error) {
	d := types.Direction(strings.ToLower(s))
	if !d.Valid() {
		return "", fmt.Errorf("direction must be long or short, got %q", s)
	}
	return d, nil
}

func newOpinionCmd(o *rootOptions) *cobra.Command {
	var tradeContext string
	cmd := &cobra.Command{
		Use:   "opinion long|short",
		Short: "Collect every agent's opinion on a hypothetical trade",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := parseDirection(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := oneShot(ctx, o, true)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			res, err := a.coord.Router().AskForTradeOpinion(ctx, dir, tradeContext)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&tradeContext, "context", "", "free-form context passed to the agents")
	return cmd
}

func newProposeCmd(o *rootOptions) *cobra.Command {
	var (
		confidence float64
		rationale  string
		timeout    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "propose long|short",
		Short: "Submit a trade proposal and print the consensus",
		Long:  "propose refreshes every agent, opens a proposal and waits for the vote. Approved proposals are not executed from this command.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := parseDirection(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := oneShot(ctx, o, true)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			p, err := a.coord.ProposeAndWait(ctx, dir, confidence, rationale, timeout)
			if perr := printJSON(cmd.OutOrStdout(), p); perr != nil {
				return perr
			}
			if errors.Is(err, swarm.ErrDecisionTimeout) {
				return fmt.Errorf("%w after %s", err, timeout)
			}
			return err
		},
	}
	cmd.Flags().Float64Var(&confidence, "confidence", 70, "proposal confidence, 0-100")
	cmd.Flags().StringVar(&rationale, "rationale", "manual proposal", "why the trade is proposed")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for consensus")
	return cmd
}
