package cli

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"can-bus-simulator/internal/playback"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	headerColor  = color.New(color.FgWhite, color.Bold)
)

func newSequenceCommand(st *state) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "sequence",
		Short: "Manage playback sequence files",
		Long: `List, export and import playback sequence files.

Sequences live as JSON or YAML documents in a directory (--dir, default
SEQUENCE_DIR). The serve command loads that directory at startup.`,
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "Sequence directory (default SEQUENCE_DIR)")

	sequenceDir := func() (string, error) {
		if dir != "" {
			return dir, nil
		}
		if st.cfg.SequenceDir != "" {
			return st.cfg.SequenceDir, nil
		}
		return "", errors.New("no sequence directory: set --dir or SEQUENCE_DIR")
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the sequences in the sequence directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := sequenceDir()
			if err != nil {
				return err
			}
			engine, err := loadSequences(st, d)
			if err != nil {
				return err
			}
			printSequences(cmd.OutOrStdout(), engine)
			return nil
		},
	}

	var output string
	exportCmd := &cobra.Command{
		Use:   "export NAME",
		Short: "Write one sequence as a JSON document",
		Long: `Exports the named sequence from the sequence directory.

Examples:
  can-simulator sequence export "Horn Test" --output horn.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := sequenceDir()
			if err != nil {
				return err
			}
			engine, err := loadSequences(st, d)
			if err != nil {
				return err
			}

			name := args[0]
			path := output
			if path == "" {
				path = sequenceFileName(name)
			}
			if err := engine.ExportFile(name, path); err != nil {
				return fmt.Errorf("failed to export %q: %w", name, err)
			}
			successColor.Fprintf(cmd.OutOrStdout(), "Exported %q to %s\n", name, path)
			return nil
		},
	}
	exportCmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default <name>.json)")

	importCmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Validate sequence files and store them in the sequence directory",
		Long: `Parses each file (JSON or YAML, current or legacy "messages" layout),
applies the default step delay and writes the normalized document into the
sequence directory.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := sequenceDir()
			if err != nil {
				return err
			}
			engine := playback.NewEngine(discardInjector{}, playback.Options{Logger: st.logger})

			for _, path := range args {
				seq, err := engine.ImportFile(path)
				if err != nil {
					return fmt.Errorf("failed to import %s: %w", path, err)
				}
				target := filepath.Join(d, sequenceFileName(seq.Name))
				if err := engine.ExportFile(seq.Name, target); err != nil {
					return err
				}
				successColor.Fprintf(cmd.OutOrStdout(), "Imported %q (%d steps) to %s\n", seq.Name, len(seq.Steps), target)
			}
			return nil
		},
	}

	cmd.AddCommand(listCmd, exportCmd, importCmd)
	return cmd
}

// discardInjector satisfies playback.Injector for commands that never play
type discardInjector struct{}

func (discardInjector) Inject(string, string) {}

func loadSequences(st *state, dir string) (*playback.Engine, error) {
	engine := playback.NewEngine(discardInjector{}, playback.Options{Logger: st.logger})
	if _, err := engine.LoadDir(dir); err != nil {
		return nil, err
	}
	return engine, nil
}

// sequenceFileName turns a sequence name into a file name
func sequenceFileName(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '/', '\\', ':':
			return '_'
		}
		return r
	}, name)
	return cleaned + ".json"
}

func printSequences(w io.Writer, engine *playback.Engine) {
	sequences := engine.List()
	if len(sequences) == 0 {
		fmt.Fprintln(w, "No sequences found")
		return
	}

	headerColor.Fprintf(w, "%-30s  %8s  %10s\n", "NAME", "MESSAGES", "DURATION")
	for _, info := range sequences {
		fmt.Fprintf(w, "%-30s  %8d  %9.2fs\n", info.Name, info.MessageCount, info.TotalDuration)
	}
}
