package main

import (
	"github.com/spf13/cobra"

	"github.com/archivecore/ncarepack/internal/config"
)

var (
	cfgFile   string
	keysFile  string
	titlePath string
	cfg       config.Config
)

var rootCmd = &cobra.Command{
	Use:   "ncatool",
	Short: "Inspect, extract, and repack Nintendo Switch NCA archives",
	Long: `ncatool decrypts NCA headers, walks PFS0 and RomFS partitions, verifies
IVFC hashes, and repatches CNMT/Program NCAs for redistribution.

Examples:
  ncatool inspect game.nca
  ncatool extract game.nca --out ./extracted
  ncatool repack cnmt meta.nca --replace <old-id>:<new-id>:<new-hash> --out patched.nca
  ncatool repack program game.nca --compress --out patched.ncz`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			cfg = config.Default()
		}
		return err
	},
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to a TOML config file")
	rootCmd.PersistentFlags().StringVarP(&keysFile, "keys", "k", "", "Path to prod.keys (defaults to the config keys_file, else prod.keys or keys.txt in the working directory or ~/.switch)")
	rootCmd.PersistentFlags().StringVar(&titlePath, "title-keys", "", "Path to title.keys, for titlekey-crypto content")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
