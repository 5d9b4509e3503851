package cmd

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/davidsonq/modelforge/internal/registry"
)

var abtestCmd = &cobra.Command{
	Use:   "abtest",
	Short: "Manage A/B tests between registered models",
}

var abtestCreateCmd = &cobra.Command{
	Use:   "create NAME MODEL_A_ID MODEL_B_ID",
	Short: "Create a named comparison between two models",
	Long: `Create an A/B test comparing two registered model versions by their
catalog ids. Use "modelforge registry list" to find ids.

Example:
  modelforge abtest create quant-compare 3 7`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		aID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("model A id must be an integer: %q", args[1])
		}
		bID, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("model B id must be an integer: %q", args[2])
		}
		return withStore(func(store *registry.Store) error {
			id, err := store.CreateABTest(args[0], aID, bID)
			if err != nil {
				return err
			}
			fmt.Printf("Created test %q (id %d)\n", args[0], id)
			return nil
		})
	},
}

var abtestListCmd = &cobra.Command{
	Use:   "list",
	Short: "List A/B tests, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store *registry.Store) error {
			tests, err := store.ListABTests()
			if err != nil {
				return err
			}
			if len(tests) == 0 {
				fmt.Println("No A/B tests")
				return nil
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"ID", "NAME", "MODEL A", "MODEL B", "STATUS", "CREATED"})
			table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.SetHeaderLine(false)
			table.SetBorder(false)
			table.SetNoWhiteSpace(true)
			table.SetTablePadding("    ")
			for _, tv := range tests {
				table.Append([]string{
					fmt.Sprintf("%d", tv.ID),
					tv.Name,
					fmt.Sprintf("%s:%s", tv.ModelAName, tv.ModelAVersion),
					fmt.Sprintf("%s:%s", tv.ModelBName, tv.ModelBVersion),
					tv.Status,
					tv.CreatedAt.Local().Format(time.DateTime),
				})
			}
			table.Render()
			return nil
		})
	},
}

var abtestRecordCmd = &cobra.Command{
	Use:   "record TEST_ID MODEL_ID METRIC VALUE",
	Short: "Record one metric observation for a test arm",
	Long: `Append a metric observation to an A/B test. Observations accumulate;
recording the same metric twice keeps both values.

Example:
  modelforge abtest record 1 3 latency_ms 12.4`,
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		testID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("test id must be an integer: %q", args[0])
		}
		modelID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("model id must be an integer: %q", args[1])
		}
		value, err := strconv.ParseFloat(args[3], 64)
		if err != nil {
			return fmt.Errorf("value must be a number: %q", args[3])
		}
		return withStore(func(store *registry.Store) error {
			if err := store.RecordABResult(testID, modelID, args[2], value); err != nil {
				return err
			}
			fmt.Printf("Recorded %s=%g for model %d on test %d\n", args[2], value, modelID, testID)
			return nil
		})
	},
}

var abtestResultsCmd = &cobra.Command{
	Use:   "results TEST_ID",
	Short: "Show recorded metrics for a test, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		testID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("test id must be an integer: %q", args[0])
		}
		return withStore(func(store *registry.Store) error {
			results, err := store.GetABResults(testID)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Println("No results recorded")
				return nil
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"MODEL", "METRIC", "VALUE", "RECORDED"})
			table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.SetHeaderLine(false)
			table.SetBorder(false)
			table.SetNoWhiteSpace(true)
			table.SetTablePadding("    ")
			for _, res := range results {
				table.Append([]string{
					fmt.Sprintf("%s:%s", res.ModelName, res.ModelVersion),
					res.MetricName,
					fmt.Sprintf("%g", res.MetricValue),
					res.Timestamp.Local().Format(time.DateTime),
				})
			}
			table.Render()
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(abtestCmd)
	abtestCmd.AddCommand(abtestCreateCmd, abtestListCmd, abtestRecordCmd, abtestResultsCmd)
}
