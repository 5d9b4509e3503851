package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/davidsonq/modelforge/internal/backend"
	"github.com/davidsonq/modelforge/internal/hardware"
)

var systemJSON bool

var systemCmd = &cobra.Command{
	Use:   "system",
	Short: "Show detected hardware and the recommended backend",
	RunE:  runSystem,
}

func init() {
	rootCmd.AddCommand(systemCmd)

	systemCmd.Flags().BoolVar(&systemJSON, "json", false, "output as JSON")
}

func runSystem(_ *cobra.Command, _ []string) error {
	cleanup, err := initLogging()
	if err != nil {
		return err
	}
	defer cleanup()

	detector := hardware.NewDetector()
	info, err := detector.Detect()
	if err != nil {
		return fmt.Errorf("detecting hardware: %w", err)
	}
	manager := backend.NewManager()
	recommended := hardware.RecommendAvailable(info, manager.IsAvailable)

	if systemJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"system":              info,
			"recommended_backend": recommended,
			"available_backends":  manager.Available(),
		})
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk([][]string{
		{"CPU", info.CPUName},
		{"Vendor", string(info.CPUVendor)},
		{"Cores", fmt.Sprintf("%d physical / %d logical", info.PhysicalCores, info.LogicalCores)},
		{"Features", strings.Join(info.Features, ", ")},
		{"RAM", fmt.Sprintf("%.1f GB total / %.1f GB available", info.TotalRAMGB, info.AvailableRAMGB)},
		{"GPU", formatGPUs(info)},
		{"OS", fmt.Sprintf("%s/%s", info.OS, info.Arch)},
	})
	table.Render()

	fmt.Printf("\nRecommended backend: %s\n", recommended)
	if avail := manager.Available(); len(avail) > 0 {
		fmt.Printf("Available backends:  %s\n", strings.Join(avail, ", "))
	} else {
		fmt.Println("Available backends:  none (install optimum to enable optimization)")
	}
	return nil
}

func formatGPUs(info *hardware.SystemInfo) string {
	if !info.HasGPU {
		return "none"
	}
	parts := make([]string, 0, len(info.GPUs))
	for _, g := range info.GPUs {
		parts = append(parts, fmt.Sprintf("%s (%.1f GB)", g.Name, g.VRAMGB))
	}
	return strings.Join(parts, ", ")
}
