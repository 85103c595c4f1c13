package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/unity-portal/unity/internal/config"
	"github.com/unity-portal/unity/internal/core"
	"github.com/unity-portal/unity/internal/firecloud"
)

var (
	configPath  string
	asUser      string
	project     string
	jsonOutput  bool
	showMetrics bool
)

// RegisterGlobalFlags adds flags shared by every command.
func RegisterGlobalFlags(root *cobra.Command) {
	root.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.unity/config.json)")
	root.PersistentFlags().StringVar(&asUser, "as", "", "Act as this stored user instead of the portal service account")
	root.PersistentFlags().StringVar(&project, "project", "", "Billing project for the call (default from config)")
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print raw JSON")
	root.PersistentFlags().BoolVar(&showMetrics, "metrics", false, "Print request counters to stderr on exit")
}

// loadEngine reads the configuration and opens the engine.
func loadEngine() (*core.Engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	engine, err := core.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening unity: %w", err)
	}
	return engine, nil
}

// client returns the API client for --as, or the portal service client.
func client(ctx context.Context, engine *core.Engine) (*firecloud.Client, error) {
	if asUser != "" {
		return engine.UserClient(ctx, asUser, project)
	}
	if project != "" {
		if err := engine.Scope.CheckNamespace(project); err != nil {
			return nil, err
		}
	}
	return engine.Portal(ctx)
}

// withClient opens the engine, resolves the acting client and runs fn.
func withClient(cmd *cobra.Command, fn func(ctx context.Context, engine *core.Engine, c *firecloud.Client) error) error {
	engine, err := loadEngine()
	if err != nil {
		return err
	}
	defer engine.Close()
	defer printMetrics(engine)

	ctx := cmd.Context()
	c, err := client(ctx, engine)
	if err != nil {
		return err
	}
	return fn(ctx, engine, c)
}

// withEngine opens the engine and runs fn.
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, engine *core.Engine) error) error {
	engine, err := loadEngine()
	if err != nil {
		return err
	}
	defer engine.Close()
	defer printMetrics(engine)
	return fn(cmd.Context(), engine)
}

func printMetrics(engine *core.Engine) {
	if !showMetrics {
		return
	}
	families, err := engine.Registry.Gather()
	if err != nil {
		fmt.Fprintf(os.Stderr, "gathering metrics: %v\n", err)
		return
	}
	w := tabwriter.NewWriter(os.Stderr, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "METRIC\tLABELS\tVALUE")
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			fmt.Fprintf(w, "%s\t%s\t%g\n", mf.GetName(), strings.Join(labels, ","), m.GetCounter().GetValue())
		}
	}
	w.Flush()
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
}

// splitWorkspace parses "namespace/name".
func splitWorkspace(arg string) (string, string, error) {
	ns, name, ok := strings.Cut(arg, "/")
	if !ok || ns == "" || name == "" {
		return "", "", fmt.Errorf("workspace must be namespace/name, got %q", arg)
	}
	return ns, name, nil
}

// parseSnapshot parses a method snapshot id argument.
func parseSnapshot(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("snapshot must be a positive integer, got %q", arg)
	}
	return n, nil
}

// parseAssignments parses key=value pairs.
func parseAssignments(args []string) (map[string]string, error) {
	out := make(map[string]string, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", a)
		}
		out[k] = v
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
