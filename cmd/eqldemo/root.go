package main

import (
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	verbose      bool
	fixturesPath string
	log          logr.Logger
	fixtures     *fixtureSet
)

var rootCmd = &cobra.Command{
	Use:   "eqldemo",
	Short: "Run the entity-query-language engine's scenario demos",
	Long: `eqldemo drives the entity-query-language engine through the
worked scenarios S1-S6: battery-level filtering, uniqueness quantifiers,
grouped aggregation with having(), structural flattening, rule-tree
inference, and ordering determinism.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = ""
		if !verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		}
		zl, err := cfg.Build()
		if err != nil {
			return err
		}
		log = zapr.NewLogger(zl)

		fs, err := loadFixtures(fixturesPath)
		if err != nil {
			return err
		}
		fixtures = fs
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable evaluation-trace logging")
	rootCmd.PersistentFlags().StringVar(&fixturesPath, "fixtures", "", "path to a YAML file overriding the embedded scenario fixtures")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
