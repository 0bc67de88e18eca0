// Command merkleroll serves concurrent merkle trees over http and carries a
// few offline helpers for sizing blocks and managing checkpoint keys.
package main

import (
	"fmt"
	"os"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/forestrie/go-merkleroll/internal/config"
)

var (
	cfgFile string
	v       *viper.Viper
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:   "merkleroll",
	Short: "Concurrent merkle tree service",
	Long: `merkleroll keeps fixed depth merkle trees that accept updates made
against slightly stale proofs. Trees are served over http and persisted to
memory, files, leveldb, postgres or azure blob storage.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		logger.New(cfg.Log.Level)
		return nil
	},
}

func init() {
	v = config.New()

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./merkleroll.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level, overrides log.level")
	_ = v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sizeCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(inspectCmd)
}

func main() {
	defer logger.OnExit()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
