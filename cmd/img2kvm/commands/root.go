package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/img2kvm/img2kvm/internal/config"
	"github.com/img2kvm/img2kvm/pkg/decompress"
	"github.com/img2kvm/img2kvm/pkg/errors"
	"github.com/img2kvm/img2kvm/pkg/hypervisor"
)

// LogLevel is the level of the default slog handler.
var LogLevel slog.LevelVar

var rootCmd = &cobra.Command{
	Use:   "img2kvm -n <image> -i <vm-id> [-s <storage>]",
	Short: "A utility that converts a disk image in Proxmox VE",
	Long: `Decompresses a bz2, bzip2, gz, lzma, xz or zip disk image (img and iso
files are used as they are), converts it to qcow2 with qemu-img and attaches it
to a Proxmox VE virtual machine with qm importdisk.`,
	SilenceErrors:     true,
	SilenceUsage:      true,
	PersistentPreRunE: applyLogLevel,
	RunE:              runConvert,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVarP(&imageName, "image-name", "n", "",
		"the name of image file, e.g. openwrt-24.10.2-x86-64-generic-squashfs-combined-efi.img.\n"+
			"Supported ending with bz2, bzip2, gz, lzma, xz, zip, img and iso extensions, or an s3://bucket/key object.")
	rootCmd.Flags().IntVarP(&vmID, "vm-id", "i", 0, "the ID of VM for Proxmox VE, e.g. '100'.")
	rootCmd.Flags().StringP("storage", "s", hypervisor.DefaultStorage, "Storage pool of Proxmox VE.")
	rootCmd.MarkFlagRequired("image-name")
	rootCmd.MarkFlagRequired("vm-id")

	rootCmd.PersistentFlags().String("work-dir", "", "Directory for intermediate files (default: current directory)")
	rootCmd.PersistentFlags().String("qemu-img-path", hypervisor.DefaultQemuImgPath, "qemu-img binary")
	rootCmd.PersistentFlags().String("qm-path", hypervisor.DefaultQmPath, "qm binary")
	rootCmd.PersistentFlags().Int64("lzma-mem-limit-kib", decompress.DefaultLzmaMemLimitKiB, "Max memory for .lzma decoding in KiB")
	rootCmd.PersistentFlags().Int64("max-output-size", 0, "Max decompressed size in bytes (0 disables)")
	rootCmd.PersistentFlags().Float64("max-compression-ratio", 0, "Max compression ratio (0 disables)")
	rootCmd.PersistentFlags().String("history-db", "", "SQLite run ledger path (empty disables)")
	rootCmd.PersistentFlags().String("fsm-db-path", "", "FSM state directory (default: temporary)")
	rootCmd.PersistentFlags().String("s3-region", "us-east-1", "S3 region for s3:// images")
	rootCmd.PersistentFlags().Bool("s3-anonymous", false, "Fetch s3:// images without credentials")
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level: debug, info, warn or error")

	viper.BindPFlag("storage", rootCmd.Flags().Lookup("storage"))
	for _, name := range []string{
		"work-dir", "qemu-img-path", "qm-path", "lzma-mem-limit-kib", "max-output-size",
		"max-compression-ratio", "history-db", "fsm-db-path", "s3-region", "s3-anonymous", "log-level",
	} {
		viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func applyLogLevel(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	LogLevel.Set(level)
	return nil
}

// loadConfig loads and validates the configuration
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config invalid")
	}
	return cfg, nil
}
