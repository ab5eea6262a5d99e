package cmd

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"

	"github.com/aragora/aragora/internal/apperr"
	"github.com/aragora/aragora/internal/config"
	"github.com/aragora/aragora/internal/domain"
	"github.com/aragora/aragora/internal/orchestrator"
	"github.com/aragora/aragora/internal/storage"
	"github.com/aragora/aragora/internal/types"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var debateCmd = &cobra.Command{
	Use:   "debate",
	Short: "Start, replay, or export a debate",
}

var (
	startTask      string
	startAgents    []string
	startRounds    int
	startConsensus string
	startDomain    string
)

var debateStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Drive one debate to completion from the CLI",
	Long: `Mirrors POST /api/debates: builds one Debate Orchestrator for the
named agents and runs it to Terminal, printing the sealed debate as JSON.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if startTask == "" {
			return apperr.New(apperr.KindInput, "missing_task", "--task is required")
		}
		if len(startAgents) < 2 {
			return apperr.New(apperr.KindInput, "missing_agents", "--agents requires at least two comma-separated agent names")
		}

		cfg := config.Load()
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		eng, err := buildEngine(cfg)
		if err != nil {
			return err
		}
		defer eng.Close()

		orch, err := eng.server.NewOrchestrator(startAgents)
		if err != nil {
			return err
		}

		rounds := startRounds
		if rounds <= 0 {
			rounds = cfg.Debate.Rounds
		}
		consensus := types.ConsensusPolicy(startConsensus)
		if !consensus.IsValid() {
			consensus = cfg.Debate.Consensus
		}
		domainTag := startDomain
		if domainTag == "" {
			domainTag = "general"
		}

		debateID := uuid.New().String()
		req := orchestrator.Request{
			DebateID: debateID,
			Slug:     debateID,
			Task:     startTask,
			Agents:   startAgents,
			Cfg: orchestrator.Config{
				RoundsPlanned:      rounds,
				ConsensusPolicy:    consensus,
				ConsensusThreshold: cfg.Debate.ConsensusThreshold,
				MinParticipants:    cfg.Debate.MinParticipants,
				Domain:             domainTag,
				Convergence: orchestrator.ConvergenceConfig{
					Enabled:             true,
					SimilarityThreshold: cfg.Debate.ConvergenceSimilarity,
					MinRounds:           2,
				},
			},
		}

		debate, runErr := orch.Run(context.Background(), req)
		if debate != nil {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(debate)
		}
		if runErr != nil && !apperr.Is(runErr, apperr.KindCanceled) {
			return runErr
		}
		return nil
	},
}

var exportFormat string

var debateReplayCmd = &cobra.Command{
	Use:   "replay <debate-id-or-slug>",
	Short: "Print a sealed (or in-progress) debate's durable transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		store, err := openStorageOnly(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		debate, messages, err := store.GetDebate(context.Background(), args[0])
		if err != nil {
			return apperr.Wrap(apperr.KindInput, "debate_not_found", "no such debate", err)
		}

		fmt.Printf("debate %s (slug=%s) task=%q outcome=%s rounds=%d/%d\n",
			debate.DebateID, debate.Slug, debate.Task, debate.Outcome, debate.RoundsUsed, debate.RoundsPlanned)
		for _, m := range messages {
			fmt.Printf("[round %d] %s (%s/%s): %s\n", m.Round, m.Agent, m.Role, m.Phase, m.Content)
		}
		if debate.ConsensusReached && debate.FinalArtifact != nil {
			fmt.Printf("\nconsensus: %s (confidence %.2f)\n", debate.FinalArtifact.Choice, debate.FinalArtifact.Confidence)
		}
		return nil
	},
}

var debateExportCmd = &cobra.Command{
	Use:   "export <debate-id-or-slug>",
	Short: "Export a debate transcript as JSON, CSV, or HTML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		store, err := openStorageOnly(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		debate, messages, err := store.GetDebate(context.Background(), args[0])
		if err != nil {
			return apperr.Wrap(apperr.KindInput, "debate_not_found", "no such debate", err)
		}

		switch strings.ToLower(exportFormat) {
		case "", "json":
			return exportJSON(debate, messages)
		case "csv":
			return exportCSV(messages)
		case "html":
			return exportHTML(debate, messages)
		default:
			return apperr.New(apperr.KindInput, "unknown_format", "format must be one of json, csv, html")
		}
	},
}

func openStorageOnly(cfg *config.Config) (storage.Adapter, error) {
	dbPath := filepath.Join(cfg.DataDir, "aragora.db")
	return storage.Open(dbPath)
}

func exportJSON(d *domain.Debate, messages []domain.DebateMessage) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]interface{}{"debate": d, "messages": messages})
}

func exportCSV(messages []domain.DebateMessage) error {
	w := csv.NewWriter(os.Stdout)
	defer w.Flush()
	if err := w.Write([]string{"round", "agent", "role", "phase", "confidence", "content", "timestamp"}); err != nil {
		return err
	}
	for _, m := range messages {
		conf := ""
		if m.Confidence != nil {
			conf = fmt.Sprintf("%.2f", *m.Confidence)
		}
		if err := w.Write([]string{
			fmt.Sprintf("%d", m.Round), m.Agent, m.Role, string(m.Phase), conf, m.Content, m.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
		}); err != nil {
			return err
		}
	}
	return nil
}

func exportHTML(d *domain.Debate, messages []domain.DebateMessage) error {
	fmt.Printf("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>%s</title></head><body>\n", html.EscapeString(d.Task))
	fmt.Printf("<h1>%s</h1>\n<p>outcome: %s</p>\n<ol>\n", html.EscapeString(d.Task), html.EscapeString(string(d.Outcome)))
	for _, m := range messages {
		fmt.Printf("<li><strong>round %d - %s (%s/%s)</strong><br>%s</li>\n",
			m.Round, html.EscapeString(m.Agent), html.EscapeString(m.Role), html.EscapeString(string(m.Phase)), html.EscapeString(m.Content))
	}
	fmt.Print("</ol>\n</body></html>\n")
	return nil
}

func init() {
	rootCmd.AddCommand(debateCmd)
	debateCmd.AddCommand(debateStartCmd)
	debateCmd.AddCommand(debateReplayCmd)
	debateCmd.AddCommand(debateExportCmd)

	debateStartCmd.Flags().StringVar(&startTask, "task", "", "the debate task/question")
	debateStartCmd.Flags().StringSliceVar(&startAgents, "agents", nil, "comma-separated agent names (min 2)")
	debateStartCmd.Flags().IntVar(&startRounds, "rounds", 0, "planned rounds (default from DEBATE_DEFAULT_ROUNDS)")
	debateStartCmd.Flags().StringVar(&startConsensus, "consensus", "", "consensus policy: majority|supermajority|unanimous|judge|weighted")
	debateStartCmd.Flags().StringVar(&startDomain, "domain", "", "rating domain tag (default general)")

	debateExportCmd.Flags().StringVar(&exportFormat, "format", "json", "export format: json|csv|html")
}
