package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geoenrich/internal/enrich"
	"github.com/sells-group/geoenrich/internal/export"
	"github.com/sells-group/geoenrich/internal/model"
)

var (
	enrichOutput    string
	enrichFormat    string
	enrichOverrideF enrichOverrides
)

var enrichCmd = &cobra.Command{
	Use:   "enrich <source>",
	Short: "Validate CEPs and geocode every row of an address file",
	Long: "Reads a CSV or XLSX file from a local path, an http(s) or ftp URL, or a ZIP archive, " +
		"validates each CD_CEP against ViaCEP and fills CD_CEP_CORRETO, DS_LATITUDE and DS_LONGITUDE.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyOverrides(&cfg.Enrich, enrichOverrideF)
		if err := cfg.Validate("enrich"); err != nil {
			return err
		}

		var format export.Format
		if enrichFormat != "" {
			f, err := export.ParseFormat(enrichFormat)
			if err != nil {
				return err
			}
			format = f
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Processor.ProcessFile(ctx, args[0], enrich.FileOptions{
			OutputPath: enrichOutput,
			Format:     format,
			Discard:    enrichOutput != "",
			OnProgress: func(pct float64) {
				zap.L().Info("enrich: progress", zap.Float64("percent", pct))
			},
		})
		if err != nil {
			return eris.Wrap(err, "enrich")
		}

		if enrichOutput == "" {
			w, err := export.NewCSV(os.Stdout, res.Header, []rune(cfg.Enrich.Delimiter)[0])
			if err != nil {
				return err
			}
			if err := w.WriteChunk(&model.Chunk{Header: res.Header, Records: res.Records}); err != nil {
				return err
			}
			if err := w.Close(); err != nil {
				return err
			}
		}

		printSummary(res.RunID, res.Stats)
		return nil
	},
}

// printSummary writes the run statistics to stderr.
func printSummary(runID string, s model.StatsSnapshot) {
	fmt.Fprintf(os.Stderr, "run %s: %d/%d rows processed, %d valid CEPs, %d fixed CEPs, %d coordinates found, %d errors\n",
		runID, s.ProcessedRows, s.TotalRows, s.ValidCEPs, s.FixedCEPs, s.FoundCoordinates, len(s.Errors))
	for i, e := range s.Errors {
		if i == 10 {
			fmt.Fprintf(os.Stderr, "  ... %d more\n", len(s.Errors)-i)
			break
		}
		fmt.Fprintf(os.Stderr, "  row %d (chunk %d): %s\n", e.Row, e.Chunk, e.Error)
	}
}

func init() {
	f := enrichCmd.Flags()
	f.StringVarP(&enrichOutput, "output", "o", "", "output file (.csv, .geojson, .shp); CSV to stdout when empty")
	f.StringVar(&enrichFormat, "format", "", "output format: csv, geojson or shp (default from output extension)")
	f.IntVar(&enrichOverrideF.ChunkSize, "chunk-size", 0, "rows per chunk (default from config)")
	f.IntVar(&enrichOverrideF.Concurrency, "concurrency", 0, "rows enriched in parallel per chunk (default from config)")
	f.StringVar(&enrichOverrideF.Delimiter, "delimiter", "", "input and CSV output field delimiter (default from config)")
	f.StringVar(&enrichOverrideF.Encoding, "encoding", "", "input encoding: auto, utf-8 or latin-1 (default from config)")
	f.StringVar(&enrichOverrideF.ColumnMap, "column-map", "", "YAML file mapping canonical columns to input headers")
	rootCmd.AddCommand(enrichCmd)
}
