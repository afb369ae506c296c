package cli

import (
	"fmt"
	"io"
	"math/rand"
	"sort"
	"strings"
	"time"

	"can-bus-simulator/internal/bus"
	"can-bus-simulator/internal/models"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

var (
	eventColor    = color.New(color.FgYellow, color.Bold)
	injectedColor = color.New(color.FgCyan)
	changeColor   = color.New(color.FgGreen)
)

type generateOptions struct {
	count    int
	rate     float64
	seed     int64
	activate []string
	noColor  bool
}

func newGenerateCommand(st *state) *cobra.Command {
	opts := &generateOptions{}

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Print generated frames to the terminal",
		Long: `Runs the generator and stream filter without the API and prints every
accepted frame. Event frames are highlighted, injected frames are marked
and frames whose payload changed since the last one of the same id are
flagged with '*'.

Examples:
  # 50 frames as fast as possible
  can-simulator generate --count 50 --rate 0

  # Hold the horn down for a while
  can-simulator generate --activate Horn --count 100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, st, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.count, "count", "n", 20, "Number of frames to print (0 runs until interrupted)")
	cmd.Flags().Float64Var(&opts.rate, "rate", -1, "Frames per second, 0 for no pacing (default MESSAGE_RATE)")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "Random seed for reproducible output (0 picks one)")
	cmd.Flags().StringSliceVar(&opts.activate, "activate", nil, "Events to switch on before generating")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	return cmd
}

func runGenerate(cmd *cobra.Command, st *state, opts *generateOptions) error {
	if opts.noColor {
		color.NoColor = true
	}

	cfg := st.cfg
	var rng *rand.Rand
	if opts.seed != 0 {
		rng = rand.New(rand.NewSource(opts.seed))
	}
	gen, err := newGenerator(cfg, rng, st.logger, nil)
	if err != nil {
		return err
	}
	for _, name := range opts.activate {
		if err := gen.Activate(name); err != nil {
			return fmt.Errorf("cannot activate %q: %w", name, err)
		}
	}

	b := bus.New(gen, newFilter(cfg, st.logger, nil), bus.Options{Logger: st.logger})
	defer b.Close()

	r := opts.rate
	if r < 0 {
		r = cfg.MessageRate
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if r > 0 {
		limiter = rate.NewLimiter(rate.Limit(r), 1)
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	for printed := 0; opts.count == 0 || printed < opts.count; {
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}

		frame, accepted, err := b.Tick()
		if err != nil {
			return err
		}
		if !accepted {
			continue
		}
		printFrame(out, frame)
		printed++
	}
	return nil
}

// printFrame writes one frame per line: timestamp, id, payload, then markers
func printFrame(w io.Writer, frame models.AnnotatedFrame) {
	ts := time.Unix(0, int64(frame.Timestamp*float64(time.Second))).Format("15:04:05.000")

	line := fmt.Sprintf("%s  %-6s  %-16s", ts, frame.ID, frame.Payload)
	switch {
	case frame.Event != "":
		line = eventColor.Sprint(line)
	case frame.Injected:
		line = injectedColor.Sprint(line)
	}

	var markers []string
	if frame.ChangeDetected {
		markers = append(markers, changeColor.Sprint("*"))
	}
	if frame.Event != "" {
		markers = append(markers, eventColor.Sprintf("[%s]", frame.Event))
	}
	if frame.Label != "" && frame.Label != frame.Event {
		markers = append(markers, fmt.Sprintf("label=%s", frame.Label))
	}
	if frame.Injected {
		markers = append(markers, injectedColor.Sprint("(injected)"))
	}
	if len(frame.Signals) > 0 {
		markers = append(markers, formatSignals(frame.Signals))
	}

	if len(markers) > 0 {
		line += "  " + strings.Join(markers, " ")
	}
	fmt.Fprintln(w, line)
}

func formatSignals(signals map[string]float64) string {
	names := make([]string, 0, len(signals))
	for name := range signals {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%g", name, signals[name]))
	}
	return strings.Join(parts, " ")
}
