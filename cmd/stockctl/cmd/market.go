package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/3-stardust-7/JarNox/internal/domain/market"
	"github.com/3-stardust-7/JarNox/internal/service/marketdata"
)

var (
	startDate string
	endDate   string
)

var populateCmd = &cobra.Command{
	Use:   "populate",
	Short: "Fetch the company universe into the store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := application.Service.Populate(commandContext(cmd))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Companies populated: %d (fetched %d, new %d)\n",
			result.Total, result.Fetched, result.Inserted)
		return nil
	},
}

var companiesCmd = &cobra.Command{
	Use:   "companies",
	Short: "List companies",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := application.Service.GetCompanies(commandContext(cmd))
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TICKER\tNAME")
		for _, c := range result.Companies {
			fmt.Fprintf(w, "%s\t%s\n", c.Ticker, c.Name)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "source: %s\n", result.Source)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history TICKER",
	Short: "Daily bars for one ticker, newest first",
	Example: `  stockctl history AAPL
  stockctl history AAPL --start 2024-01-01 --end 2024-01-31`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := historyQuery(args[0], startDate, endDate)
		if err != nil {
			return err
		}

		result, err := application.Service.GetHistorical(commandContext(cmd), q)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintln(w, "DATE\tOPEN\tHIGH\tLOW\tCLOSE\tVOLUME\t")
		for _, b := range result.Bars {
			fmt.Fprintf(w, "%s\t%.2f\t%.2f\t%.2f\t%.2f\t%.0f\t\n",
				b.Date.Format(market.DateLayout), b.Open, b.High, b.Low, b.Close, b.Volume)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d bars, source: %s\n", result.Ticker, len(result.Bars), result.Source)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Row counts and sample tickers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := application.Service.DBStatus(commandContext(cmd))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "companies:          %d\n", status.Companies)
		fmt.Fprintf(out, "historical_records: %d\n", status.PriceBars)
		fmt.Fprintf(out, "sample_tickers:     %v\n", status.SampleTickers)
		return nil
	},
}

func init() {
	historyCmd.Flags().StringVar(&startDate, "start", "", "first date, YYYY-MM-DD")
	historyCmd.Flags().StringVar(&endDate, "end", "", "last date, YYYY-MM-DD")
}

func historyQuery(ticker, start, end string) (marketdata.HistoricalQuery, error) {
	q := marketdata.HistoricalQuery{Ticker: market.NormalizeTicker(ticker)}
	if !market.ValidateTicker(q.Ticker) {
		return q, fmt.Errorf("invalid ticker %q", ticker)
	}

	var err error
	if start != "" {
		if q.Start, err = market.ParseDate(start); err != nil {
			return q, err
		}
	}
	if end != "" {
		if q.End, err = market.ParseDate(end); err != nil {
			return q, err
		}
	}
	return q, nil
}
