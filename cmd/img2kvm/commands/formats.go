package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	appfsm "github.com/img2kvm/img2kvm/pkg/fsm"
	"github.com/img2kvm/img2kvm/pkg/format"
	"github.com/img2kvm/img2kvm/pkg/hypervisor"
)

var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List supported image extensions and external tool availability",
	Args:  cobra.NoArgs,
	RunE:  runFormats,
}

func init() {
	rootCmd.AddCommand(formatsCmd)
}

func runFormats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-8s %-10s %s\n", "EXT", "FORMAT", "DECOMPRESS")
	for _, ext := range format.Extensions() {
		fmt.Fprintf(out, "%-8s %-10s %t\n", "."+ext.Ext, ext.Tag, ext.Tag.Compressed())
	}

	health := appfsm.CheckToolsHealth(hypervisor.Options{QemuImgPath: cfg.QemuImgPath, QmPath: cfg.QmPath})
	tools := make([]string, 0, len(health))
	for tool := range health {
		tools = append(tools, tool)
	}
	sort.Strings(tools)

	fmt.Fprintln(out)
	for _, tool := range tools {
		fmt.Fprintf(out, "%-8s %s\n", tool, health[tool])
	}
	return nil
}
