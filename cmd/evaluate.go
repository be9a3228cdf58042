package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/techdev-loop/leaderboard-sub002/internal/model"
	"github.com/techdev-loop/leaderboard-sub002/internal/orchestrator"
)

var (
	evalResultPath   string
	evalPreviousPath string
	evalDomain       string
	evalFormat       string
)

// evaluationView is the printed form of an orchestrator.Outcome.
type evaluationView struct {
	ID          string                  `json:"id"`
	Domain      string                  `json:"domain"`
	Invoked     bool                    `json:"invoked"`
	Reason      string                  `json:"reason"`
	Success     bool                    `json:"success"`
	Phase       string                  `json:"phase,omitempty"`
	Iterations  int                     `json:"iterations,omitempty"`
	Confidence  float64                 `json:"confidence"`
	Corrected   bool                    `json:"corrected"`
	Verified    bool                    `json:"verified"`
	Flagged     bool                    `json:"flagged"`
	FailureKind string                  `json:"failure_kind,omitempty"`
	Failure     string                  `json:"failure,omitempty"`
	Anomalies   []string                `json:"anomalies,omitempty"`
	CostUSD     float64                 `json:"cost_usd"`
	Result      *model.ExtractionResult `json:"result,omitempty"`
}

func viewOf(out orchestrator.Outcome) evaluationView {
	return evaluationView{
		ID:          out.ID,
		Domain:      out.Domain,
		Invoked:     out.Invoked,
		Reason:      string(out.Decision.Reason),
		Success:     out.Success,
		Phase:       out.Phase,
		Iterations:  out.Iterations,
		Confidence:  out.Confidence,
		Corrected:   out.Corrected,
		Verified:    out.Verified,
		Flagged:     out.Flagged,
		FailureKind: string(out.FailureKind),
		Failure:     out.Failure,
		Anomalies:   out.Report.Codes(),
		CostUSD:     out.Usage.CostUSD,
		Result:      out.Result,
	}
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Run the learning protocol on a scraped result",
	Long: "Reads an extraction result as JSON (a file, or - for stdin), analyzes it for anomalies and, " +
		"when the site needs it, asks the oracle to verify and correct it. Without a live page only the quick phase runs.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := readResult(cmd.InOrStdin(), evalResultPath)
		if err != nil {
			return err
		}
		var prev *model.ExtractionResult
		if evalPreviousPath != "" {
			if prev, err = readResult(cmd.InOrStdin(), evalPreviousPath); err != nil {
				return err
			}
		}
		domain := evalDomain
		if domain == "" {
			domain = res.Domain
		}
		if domain == "" {
			domain = res.URL
		}
		if domain == "" {
			return eris.New("no domain: pass --domain or set domain in the result")
		}

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		out := a.Orchestrator.Evaluate(cmd.Context(), orchestrator.Input{Domain: domain, Result: res, Previous: prev})
		return writeOutput(cmd.OutOrStdout(), evalFormat, viewOf(out))
	},
}

func readResult(stdin io.Reader, path string) (*model.ExtractionResult, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "read result %s", path)
	}
	var res model.ExtractionResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, eris.Wrapf(err, "parse result %s", path)
	}
	return &res, nil
}

func init() {
	evaluateCmd.Flags().StringVar(&evalResultPath, "result", "", "extraction result JSON file, or - for stdin")
	evaluateCmd.Flags().StringVar(&evalPreviousPath, "previous", "", "previous accepted result, for stale-data checks")
	evaluateCmd.Flags().StringVar(&evalDomain, "domain", "", "site domain (default: the result's domain)")
	evaluateCmd.Flags().StringVarP(&evalFormat, "output", "o", "json", "output format: json or yaml")
	_ = evaluateCmd.MarkFlagRequired("result")
	rootCmd.AddCommand(evaluateCmd)
}
