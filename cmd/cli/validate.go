package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/recoverydesk/case-service/internal/app"
	"github.com/recoverydesk/case-service/internal/parsers"
	"github.com/recoverydesk/case-service/internal/resolver"
	"github.com/recoverydesk/case-service/internal/store"
	"github.com/recoverydesk/case-service/internal/types"
)

var (
	validateOutput   string
	validateEncoding string
	validateSample   int
)

// validateCmd represents the validate command
var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Decode a file and check every row without writing anything",
	Long: `Decode a local CSV or XLSX file and run every row through field mapping and
coercion against an empty in-memory store. Nothing is committed. The report lists
the detected columns, how many rows would become cases and every row error.

Supported encodings: auto, utf-8, windows-1250, iso-8859-2`,
	Example: `  case-service validate ./accounts.csv
  case-service validate ./accounts.csv --encoding windows-1250
  case-service validate ./accounts.xlsx --output json`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVar(&validateOutput, "output", "table", "Output format: table or json")
	validateCmd.Flags().StringVar(&validateEncoding, "encoding", "", "File encoding (default from config)")
	validateCmd.Flags().IntVar(&validateSample, "sample", 5, "Number of decoded rows to include in the report")
}

type validationReport struct {
	File      string             `json:"file"`
	Fields    []string           `json:"fields"`
	Mapped    map[string]bool    `json:"mapped"`
	TotalRows int                `json:"totalRows"`
	ValidRows int                `json:"validRows"`
	Errors    []string           `json:"errors"`
	Sample    []types.DecodedRow `json:"sample,omitempty"`
}

func runValidate(cmd *cobra.Command, args []string) error {
	if validateEncoding != "" {
		cfg.Ingestion.Encoding = validateEncoding
	}
	opts, err := app.DecodeOptions(cfg.Ingestion)
	if err != nil {
		return err
	}

	src, err := parsers.Open(args[0], opts)
	if err != nil {
		return err
	}
	fields := src.Fields()
	rows, err := parsers.ReadAll(src)
	if err != nil {
		return err
	}

	res, err := app.NewResolver(store.NewMemory(), cfg.Ingestion, logger)
	if err != nil {
		return err
	}
	report, err := validateRows(context.Background(), res, args[0], fields, rows)
	if err != nil {
		return err
	}

	if validateOutput == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		displayReport(cmd.OutOrStdout(), report)
	}
	if len(report.Errors) > 0 {
		return fmt.Errorf("%d of %d rows are invalid", len(report.Errors), report.TotalRows)
	}
	return nil
}

func validateRows(ctx context.Context, res *resolver.Resolver, file string, fields []string, rows []types.DecodedRow) (*validationReport, error) {
	run := res.NewRun("validate", fields)
	defer run.Close()

	binding := run.Binding()
	mapped := make(map[string]bool)
	for _, f := range []string{
		resolver.FieldCustomerName, resolver.FieldCustomerEmail, resolver.FieldAmount,
		resolver.FieldAgingDays, resolver.FieldInvoiceID, resolver.FieldAccountNumber,
		resolver.FieldStatus, resolver.FieldDueDate, resolver.FieldRegion, resolver.FieldAccountType,
	} {
		mapped[f] = binding.Has(f)
	}

	report := &validationReport{
		File:      file,
		Fields:    fields,
		Mapped:    mapped,
		TotalRows: len(rows),
		Errors:    []string{},
	}
	for i, row := range rows {
		if i < validateSample {
			report.Sample = append(report.Sample, row)
		}
		_, err := run.Resolve(ctx, row)
		var rowErr *types.RowError
		switch {
		case err == nil:
			report.ValidRows++
		case errors.As(err, &rowErr):
			report.Errors = append(report.Errors, rowErr.Error())
		default:
			return nil, err
		}
	}
	return report, nil
}

func displayReport(out io.Writer, r *validationReport) {
	fmt.Fprintf(out, "File: %s\n", r.File)
	fmt.Fprintf(out, "Columns: %v\n\n", r.Fields)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "FIELD\tMAPPED")
	fmt.Fprintln(w, "-----\t------")
	for _, f := range slices.Sorted(maps.Keys(r.Mapped)) {
		mark := "no"
		if r.Mapped[f] {
			mark = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\n", f, mark)
	}
	w.Flush()

	fmt.Fprintf(out, "\nRows: %d  valid: %d  invalid: %d\n", r.TotalRows, r.ValidRows, len(r.Errors))
	for _, e := range r.Errors {
		fmt.Fprintf(out, "  %s\n", e)
	}
}
