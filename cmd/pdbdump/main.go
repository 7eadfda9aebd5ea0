// pdbdump is a CLI tool for extracting the CodeView debug information of
// PDB files and PE images.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/jtang613/cvsym/internal/config"
	"github.com/jtang613/cvsym/internal/logging"
	"github.com/jtang613/cvsym/pkg/pdb"
)

// app holds what every subcommand shares once the configuration is loaded.
type app struct {
	configPath  string
	pretty      bool
	noPublics   bool
	logLevel    string
	searchPaths []string

	conf    *config.Conf
	log     *zap.Logger
	locator *pdb.Locator
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "pdbdump",
		Short:         "Dump CodeView debug information as JSON",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Flags())
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	a.addFlags(root.PersistentFlags())
	root.AddCommand(
		a.infoCmd(),
		a.typesCmd(),
		a.typeCmd(),
		a.symbolsCmd(),
		a.linesCmd(),
		a.imageCmd(),
		a.locateCmd(),
	)
	return root
}

func (a *app) addFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&a.configPath, "config", "c", "", "configuration file (yaml, json or toml)")
	fs.BoolVarP(&a.pretty, "pretty", "p", false, "pretty-print JSON output")
	fs.BoolVar(&a.noPublics, "no-publics", false, "skip the public symbol table")
	fs.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.StringSliceVarP(&a.searchPaths, "search-path", "s", nil, "directory searched for PDB files (repeatable)")
}

// setup loads the configuration file and lets explicitly set flags
// override it.
func (a *app) setup(fs *pflag.FlagSet) error {
	conf, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if fs.Changed("no-publics") {
		conf.NoPublics = a.noPublics
	}
	if fs.Changed("log-level") {
		conf.Log.Level = a.logLevel
	}
	if fs.Changed("search-path") {
		conf.SearchPaths = append(append([]string(nil), a.searchPaths...), conf.SearchPaths...)
	}
	a.conf = conf

	if a.log, err = logging.New(conf.Log); err != nil {
		return err
	}
	a.locator = pdb.NewLocator(conf.SearchPaths, conf.Locator.CacheSize, a.log)
	return nil
}

func (a *app) options() pdb.Options {
	return pdb.Options{
		NoPublics: a.conf.NoPublics,
		Logger:    a.log,
		Locator:   a.locator,
	}
}

func (a *app) outputJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false) // Don't escape &, <, > as \u0026, \u003c, \u003e
	if a.pretty {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(v)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
