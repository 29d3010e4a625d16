package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gkobilansky/form-goat/internal/experiment"
	"github.com/gkobilansky/form-goat/internal/form"
	"github.com/gkobilansky/form-goat/internal/store"
)

func init() {
	rootCmd.AddCommand(newCreateCmd())
}

func newCreateCmd() *cobra.Command {
	var (
		name        string
		description string
		variants    string
		weights     string
		changesFile string
		allocation  string
		testType    string
		goal        string
		minSample   int
		confidence  float64
		autoEnd     bool
		start       bool
	)

	cmd := &cobra.Command{
		Use:   "create <form-id>",
		Short: "Create a new A/B test for a form",
		Long: `Create a new draft A/B test for a form. The first variant is the control.

Variant changes are read from a JSON file keyed by variant id
(variant_a, variant_b, ... in --variants order):

  {"variant_b": [{"op": "hide", "path": "fields.2"}]}

Examples:
  fgoat create contact
  fgoat create contact --variants "Control,Short form" --changes changes.json --start
  fgoat create signup --variants "A,B,C" --allocation weighted --weights "50,25,25"
  fgoat create signup --allocation bandit --min-sample 1000 --auto-end`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tc := experiment.TestConfig{
				Name:              name,
				Description:       description,
				TestType:          store.TestType(testType),
				GoalType:          goal,
				TrafficAllocation: store.Allocation(allocation),
				MinimumSample:     minSample,
				ConfidenceLevel:   confidence,
				AutoEndOnWinner:   autoEnd,
			}

			variantConfigs, err := parseVariants(variants, weights, changesFile)
			if err != nil {
				return err
			}
			tc.Variants = variantConfigs

			return withService(func(svc *experiment.Service, _ *store.SQLiteStore) error {
				ctx := cmd.Context()

				test, err := svc.CreateTest(ctx, args[0], tc)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Created test %d '%s' for form '%s' with %d variants:\n", test.ID, test.Name, test.FormID, len(test.Variants))
				for _, v := range test.Variants {
					control := ""
					if v.IsControl {
						control = " (control)"
					}
					fmt.Fprintf(out, "  %s: %s%s, %d changes\n", v.ID, v.Name, control, len(v.Changes))
				}
				fmt.Fprintf(out, "  Allocation: %s\n", test.TrafficAllocation)

				if start {
					ok, err := svc.StartTest(ctx, test.ID)
					if err != nil {
						return err
					}
					if ok {
						fmt.Fprintln(out, "Test is running.")
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "test name (default \"Test for <form-id>\")")
	cmd.Flags().StringVar(&description, "description", "", "test description")
	cmd.Flags().StringVarP(&variants, "variants", "v", "", "comma-separated variant names, first is the control (default \"Control,Variant B\")")
	cmd.Flags().StringVar(&weights, "weights", "", "comma-separated variant weights for weighted allocation")
	cmd.Flags().StringVar(&changesFile, "changes", "", "JSON file with form changes per variant id")
	cmd.Flags().StringVar(&allocation, "allocation", string(store.AllocationEqual), "traffic allocation: equal, weighted or bandit")
	cmd.Flags().StringVar(&testType, "type", string(store.TypeAB), "test type: ab, multivariate or split_url")
	cmd.Flags().StringVar(&goal, "goal", "", "goal type label")
	cmd.Flags().IntVar(&minSample, "min-sample", 0, "minimum total views before auto-completion")
	cmd.Flags().Float64Var(&confidence, "confidence", store.DefaultConfidenceLevel, "confidence level in (0, 1]")
	cmd.Flags().BoolVar(&autoEnd, "auto-end", false, "complete automatically once a winner is found")
	cmd.Flags().BoolVar(&start, "start", false, "start the test right away")

	return cmd
}

// parseVariants turns the --variants, --weights and --changes flags into
// variant configs. Empty variants means the service defaults.
func parseVariants(names, weights, changesFile string) ([]experiment.VariantConfig, error) {
	var changes map[string]form.Changes
	if changesFile != "" {
		data, err := os.ReadFile(changesFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read changes: %w", err)
		}
		if err := json.Unmarshal(data, &changes); err != nil {
			return nil, fmt.Errorf("failed to parse changes: %w", err)
		}
	}

	if names == "" {
		if weights != "" || len(changes) > 0 {
			return nil, fmt.Errorf("--weights and --changes need --variants")
		}
		return nil, nil
	}

	nameList := splitList(names)
	if len(nameList) < 2 {
		return nil, fmt.Errorf("need at least 2 variants. Example: --variants \"Control,Short form\"")
	}

	var weightList []float64
	if weights != "" {
		for _, w := range splitList(weights) {
			f, err := strconv.ParseFloat(w, 64)
			if err != nil || f < 0 {
				return nil, fmt.Errorf("invalid weight %q", w)
			}
			weightList = append(weightList, f)
		}
		if len(weightList) != len(nameList) {
			return nil, fmt.Errorf("got %d weights for %d variants", len(weightList), len(nameList))
		}
	}

	configs := make([]experiment.VariantConfig, len(nameList))
	ids := make(map[string]bool, len(nameList))
	for i, n := range nameList {
		id := "variant_" + string(rune('a'+i%26))
		if i >= 26 {
			id = fmt.Sprintf("variant_%d", i+1)
		}
		ids[id] = true

		weight := 1.0
		if weightList != nil {
			weight = weightList[i]
		}
		configs[i] = experiment.VariantConfig{
			ID:        id,
			Name:      n,
			Changes:   changes[id],
			Weight:    weight,
			IsControl: i == 0,
		}
	}
	for id := range changes {
		if !ids[id] {
			return nil, fmt.Errorf("changes for unknown variant %q", id)
		}
	}
	return configs, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
