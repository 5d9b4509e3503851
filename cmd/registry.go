package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/davidsonq/modelforge/internal/registry"
)

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Manage the local model registry",
}

var (
	pushBackend   string
	pushBaseModel string
	pushTask      string
	listFilter    string
)

var registryPushCmd = &cobra.Command{
	Use:   "push NAME VERSION PATH",
	Short: "Register a model artifact",
	Long: `Copy a model artifact into managed storage and record it in the
registry catalog under NAME:VERSION.

Example:
  modelforge registry push bert-quant 1.0.0 ./optimized_models/bert-onnx`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store *registry.Store) error {
			id, err := store.RegisterModel(registry.RegisterParams{
				Name:       args[0],
				Version:    args[1],
				SourcePath: args[2],
				Backend:    pushBackend,
				BaseModel:  pushBaseModel,
				Task:       pushTask,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Registered %s:%s (id %d)\n", args[0], args[1], id)
			return nil
		})
	},
}

var registryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered models, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store *registry.Store) error {
			models, err := store.ListModels(listFilter)
			if err != nil {
				return err
			}
			if len(models) == 0 {
				fmt.Println("No models registered")
				return nil
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"ID", "NAME", "VERSION", "BACKEND", "SIZE", "CREATED"})
			table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.SetHeaderLine(false)
			table.SetBorder(false)
			table.SetNoWhiteSpace(true)
			table.SetTablePadding("    ")
			for _, m := range models {
				table.Append([]string{
					fmt.Sprintf("%d", m.ID),
					m.Name,
					m.Version,
					m.Backend,
					fmt.Sprintf("%.1f MB", m.SizeMB),
					m.CreatedAt.Local().Format(time.DateTime),
				})
			}
			table.Render()
			return nil
		})
	},
}

var registryInfoCmd = &cobra.Command{
	Use:   "info NAME [VERSION]",
	Short: "Show one model as JSON",
	Long: `Show the full catalog record for a model. With no VERSION (or with
"latest") the most recently registered version is shown.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store *registry.Store) error {
			version := ""
			if len(args) > 1 {
				version = args[1]
			}
			rec, err := store.GetModel(args[0], version)
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("model %s not found", args[0])
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		})
	},
}

var registryPullCmd = &cobra.Command{
	Use:   "pull NAME [VERSION] DEST",
	Short: "Copy a model artifact out of managed storage",
	Long: `Copy a registered model's artifact directory to DEST. With a single
NAME argument the latest version is pulled.

Example:
  modelforge registry pull bert-quant 1.0.0 ./local-copy`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store *registry.Store) error {
			name := args[0]
			version, dest := "", args[len(args)-1]
			if len(args) == 3 {
				version = args[1]
			}
			rec, err := store.GetModel(name, version)
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("model %s not found", name)
			}
			if err := registry.CopyArtifact(rec.ModelPath, dest); err != nil {
				return fmt.Errorf("copying artifact: %w", err)
			}
			fmt.Printf("Pulled %s:%s to %s\n", rec.Name, rec.Version, dest)
			return nil
		})
	},
}

var registryDeleteCmd = &cobra.Command{
	Use:   "delete NAME [VERSION]",
	Short: "Delete a model version, or all versions of a name",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store *registry.Store) error {
			version := ""
			if len(args) > 1 {
				version = args[1]
			}
			if err := store.DeleteModel(args[0], version); err != nil {
				return err
			}
			if version == "" {
				fmt.Printf("Deleted all versions of %s\n", args[0])
			} else {
				fmt.Printf("Deleted %s:%s\n", args[0], version)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(registryCmd)
	registryCmd.AddCommand(registryPushCmd, registryListCmd, registryInfoCmd, registryPullCmd, registryDeleteCmd)

	registryPushCmd.Flags().StringVar(&pushBackend, "backend", "onnx", "backend the artifact was produced with")
	registryPushCmd.Flags().StringVar(&pushBaseModel, "base-model", "", "source model the artifact derives from")
	registryPushCmd.Flags().StringVar(&pushTask, "task", "", "inference task hint")
	registryListCmd.Flags().StringVar(&listFilter, "name", "", "filter by exact model name")
}

// withStore opens the registry, runs fn and closes it again. Logging is
// initialized first so store operations land in the debug log.
func withStore(fn func(*registry.Store) error) error {
	cleanup, err := initLogging()
	if err != nil {
		return err
	}
	defer cleanup()

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}
