package main

import (
	"os"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"

	"github.com/jtang613/cvsym/pkg/pdb"
	"github.com/jtang613/cvsym/pkg/pdb/msf"
	"github.com/jtang613/cvsym/pkg/pdb/symt"
)

// open decodes a standalone PDB into a fresh module.
func (a *app) open(path string, opts pdb.Options) (*symt.Module, *pdb.Report, error) {
	m := symt.NewModule(path)
	report, err := pdb.Open(path, m, opts)
	if err != nil {
		return nil, nil, err
	}
	return m, report, nil
}

type infoOutput struct {
	*pdb.PDBInfo
	FileSize    string `json:"file_size"`
	BlockSize   uint32 `json:"block_size"`
	Streams     int    `json:"streams"`
	StreamBytes string `json:"stream_bytes"`
}

func (a *app) infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <pdb-file>",
		Short: "Show PDB file information",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			_, report, err := a.open(path, a.options())
			if err != nil {
				return err
			}
			st, err := os.Stat(path)
			if err != nil {
				return err
			}
			c, err := msf.Open(path)
			if err != nil {
				return err
			}
			defer c.Close()

			var total uint64
			for i := 0; i < c.NumStreams(); i++ {
				if size, ok := c.StreamSize(i); ok {
					total += uint64(size)
				}
			}
			return a.outputJSON(cmd.OutOrStdout(), &infoOutput{
				PDBInfo:     pdb.NewPDBInfo(report),
				FileSize:    humanize.IBytes(uint64(st.Size())),
				BlockSize:   c.BlockSize(),
				Streams:     c.NumStreams(),
				StreamBytes: humanize.IBytes(total),
			})
		},
	}
}

func (a *app) typesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "types <pdb-file>",
		Short: "List the named structures, unions, enumerations and typedefs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, _, err := a.open(args[0], a.options())
			if err != nil {
				return err
			}
			return a.outputJSON(cmd.OutOrStdout(), pdb.Types(m))
		},
	}
}

// parseIndex accepts decimal and 0x-prefixed type indices.
func parseIndex(s string) (uint32, error) {
	idx, err := cast.ToUint32E(s)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid type index %q", s)
	}
	return idx, nil
}

func (a *app) typeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "type <pdb-file> <index>",
		Short: "Show the details of one type index",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := parseIndex(args[1])
			if err != nil {
				return err
			}
			opts := a.options()
			opts.IndexTypes = true
			_, report, err := a.open(args[0], opts)
			if err != nil {
				return err
			}
			t, ok := report.TypeIndex[idx]
			if !ok {
				return errors.Errorf("type 0x%x not found", idx)
			}
			return a.outputJSON(cmd.OutOrStdout(), pdb.DescribeType(idx, t))
		},
	}
}

type symbolsOutput struct {
	Info      *pdb.PDBInfo       `json:"info,omitempty"`
	Functions []pdb.Function     `json:"functions,omitempty"`
	Variables []pdb.Variable     `json:"variables,omitempty"`
	Publics   []pdb.PublicSymbol `json:"public_symbols,omitempty"`
}

func newSymbolsOutput(m *symt.Module, kind string) (*symbolsOutput, error) {
	out := &symbolsOutput{}
	switch kind {
	case "":
		out.Functions = pdb.Functions(m)
		out.Variables = pdb.Variables(m)
		out.Publics = pdb.PublicSymbols(m)
	case "functions":
		out.Functions = pdb.Functions(m)
	case "variables":
		out.Variables = pdb.Variables(m)
	case "publics":
		out.Publics = pdb.PublicSymbols(m)
	default:
		return nil, errors.Errorf("unknown symbol kind %q", kind)
	}
	return out, nil
}

func (a *app) symbolsCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "symbols <pdb-file>",
		Short: "List functions, variables and public symbols",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, _, err := a.open(args[0], a.options())
			if err != nil {
				return err
			}
			out, err := newSymbolsOutput(m, kind)
			if err != nil {
				return err
			}
			return a.outputJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", "", "only list functions, variables or publics")
	return cmd
}

func (a *app) linesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lines <pdb-file>",
		Short: "List the line numbers of every function by address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, _, err := a.open(args[0], a.options())
			if err != nil {
				return err
			}
			return a.outputJSON(cmd.OutOrStdout(), pdb.Lines(m))
		},
	}
}

func (a *app) imageCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "image <pe-file>",
		Short: "Decode the debug information a PE image refers to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := pdb.ReadImage(args[0])
			if err != nil {
				return err
			}
			m := symt.NewModule(args[0])
			report, err := pdb.ProcessDebugInfo(img, m, a.options())
			if err != nil {
				return err
			}
			out, err := newSymbolsOutput(m, kind)
			if err != nil {
				return err
			}
			out.Info = pdb.NewPDBInfo(report)
			return a.outputJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", "", "only list functions, variables or publics")
	return cmd
}

type locateFlags struct {
	guid      string
	age       uint32
	timestamp string
}

func (f *locateFlags) lookup(name string) (*pdb.Lookup, error) {
	l := &pdb.Lookup{Filename: name, Age: f.age}
	switch {
	case f.guid != "":
		guid, err := uuid.Parse(f.guid)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid GUID %q", f.guid)
		}
		l.Format = msf.FormatDS
		l.GUID = guid
	case f.timestamp != "":
		stamp, err := cast.ToUint32E(f.timestamp)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid timestamp %q", f.timestamp)
		}
		l.Format = msf.FormatJG
		l.TimeDateStamp = stamp
	default:
		return nil, errors.New("one of --guid or --timestamp is required")
	}
	return l, nil
}

func (a *app) locateCmd() *cobra.Command {
	f := &locateFlags{}
	cmd := &cobra.Command{
		Use:   "locate <pdb-name>",
		Short: "Find the PDB file matching a GUID or timestamp on the search paths",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := f.lookup(args[0])
			if err != nil {
				return err
			}
			path, err := a.locator.Locate(l)
			if err != nil {
				return err
			}
			return a.outputJSON(cmd.OutOrStdout(), map[string]string{"path": path, "key": l.Key()})
		},
	}
	cmd.Flags().StringVar(&f.guid, "guid", "", "GUID of a DS (RSDS) PDB")
	cmd.Flags().StringVar(&f.timestamp, "timestamp", "", "timestamp of a JG (NB10) PDB, decimal or 0x-prefixed")
	cmd.Flags().Uint32Var(&f.age, "age", 1, "age the PDB must carry")
	return cmd
}
