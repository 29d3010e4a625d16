package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/gkobilansky/form-goat/internal/experiment"
	"github.com/gkobilansky/form-goat/internal/store"
)

func init() {
	rootCmd.AddCommand(newExportCmd())
}

func newExportCmd() *cobra.Command {
	var (
		format string
		daily  bool
	)

	cmd := &cobra.Command{
		Use:   "export <test-id>",
		Short: "Export raw event data or daily rollups",
		Long: `Export raw event data in CSV or JSON format. With --daily the
per-day rollups are exported instead of events.

Examples:
  fgoat export 3 --format csv > contact-events.csv
  fgoat export 3 --format json --daily > contact-daily.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTestID(args[0])
			if err != nil {
				return err
			}
			if format != "csv" && format != "json" {
				return fmt.Errorf("invalid format: must be 'csv' or 'json'")
			}

			return withService(func(svc *experiment.Service, _ *store.SQLiteStore) error {
				ctx := cmd.Context()

				// Verify test exists
				if _, err := loadTest(ctx, svc, id); err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if daily {
					days, err := svc.DailyResults(ctx, id)
					if err != nil {
						return fmt.Errorf("failed to get daily results: %w", err)
					}
					if format == "csv" {
						return exportDailyCSV(out, days)
					}
					return writeIndented(out, dailyExport{Days: toJSONDays(days)})
				}

				events, err := svc.Events(ctx, id)
				if err != nil {
					return fmt.Errorf("failed to get events: %w", err)
				}
				if format == "csv" {
					return exportCSV(out, events)
				}
				return writeIndented(out, jsonExport{Events: toJSONEvents(events)})
			})
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "csv", "output format (csv or json)")
	cmd.Flags().BoolVar(&daily, "daily", false, "export daily rollups instead of events")
	return cmd
}

func exportCSV(out io.Writer, events []*store.Event) error {
	w := csv.NewWriter(out)

	// Write header
	if err := w.Write([]string{"timestamp", "variant_id", "event_type", "visitor_id", "data"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	// Write rows
	for _, e := range events {
		row := []string{
			strconv.FormatInt(e.CreatedAt.Unix(), 10),
			e.VariantID,
			string(e.EventType),
			e.VisitorID,
			string(e.EventData),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

func exportDailyCSV(out io.Writer, days []store.DailyResult) error {
	w := csv.NewWriter(out)

	if err := w.Write([]string{"date", "variant_id", "views", "conversions", "bounces", "time_on_form", "field_interactions"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, d := range days {
		row := []string{
			d.Date,
			d.VariantID,
			strconv.FormatInt(d.Views, 10),
			strconv.FormatInt(d.Conversions, 10),
			strconv.FormatInt(d.Bounces, 10),
			strconv.FormatInt(d.TimeOnForm, 10),
			strconv.FormatInt(d.FieldInteractions, 10),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

type jsonExport struct {
	Events []jsonEvent `json:"events"`
}

type jsonEvent struct {
	Timestamp int64           `json:"timestamp"`
	VariantID string          `json:"variant_id"`
	EventType string          `json:"event_type"`
	VisitorID string          `json:"visitor_id"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func toJSONEvents(events []*store.Event) []jsonEvent {
	out := make([]jsonEvent, len(events))
	for i, e := range events {
		out[i] = jsonEvent{
			Timestamp: e.CreatedAt.Unix(),
			VariantID: e.VariantID,
			EventType: string(e.EventType),
			VisitorID: e.VisitorID,
		}
		if json.Valid(e.EventData) {
			out[i].Data = e.EventData
		}
	}
	return out
}

type dailyExport struct {
	Days []jsonDay `json:"days"`
}

type jsonDay struct {
	Date              string `json:"date"`
	VariantID         string `json:"variant_id"`
	Views             int64  `json:"views"`
	Conversions       int64  `json:"conversions"`
	Bounces           int64  `json:"bounces"`
	TimeOnForm        int64  `json:"time_on_form"`
	FieldInteractions int64  `json:"field_interactions"`
}

func toJSONDays(days []store.DailyResult) []jsonDay {
	out := make([]jsonDay, len(days))
	for i, d := range days {
		out[i] = jsonDay{
			Date:              d.Date,
			VariantID:         d.VariantID,
			Views:             d.Views,
			Conversions:       d.Conversions,
			Bounces:           d.Bounces,
			TimeOnForm:        d.TimeOnForm,
			FieldInteractions: d.FieldInteractions,
		}
	}
	return out
}

func writeIndented(out io.Writer, v any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
