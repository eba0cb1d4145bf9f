package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/guidoenr/backdrop/internal/memory"
	"github.com/guidoenr/backdrop/internal/store"
)

func newMemoryCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect or clear remembered per-album colors",
	}
	cmd.AddCommand(newMemoryListCmd(root))
	cmd.AddCommand(newMemoryClearCmd(root))
	cmd.AddCommand(newMemoryForgetCmd(root))
	return cmd
}

// withMemory opens the configured state file for the duration of fn.
func withMemory(root *rootFlags, fn func(*memory.Memory) error) error {
	cfg, err := root.load()
	if err != nil {
		return err
	}
	st, err := store.OpenFile(cfg.StorePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	mem := memory.New(st, memory.Options{Capacity: cfg.Memory.Capacity})
	return fn(mem)
}

func newMemoryListCmd(root *rootFlags) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List remembered albums, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMemory(root, func(mem *memory.Memory) error {
				entries, err := mem.Entries(cmd.Context())
				if err != nil {
					return err
				}
				return renderEntries(cmd, entries, jsonOutput)
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	return cmd
}

func renderEntries(cmd *cobra.Command, entries []memory.Entry, jsonOutput bool) error {
	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No remembered albums.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ARTWORK\tCOLORS\tMANUAL\tLAST USED")
	for _, e := range entries {
		manual := "no"
		if e.ManuallyModified {
			manual = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.ID, strings.Join(e.Colors.Hex(), " "), manual, e.LastAccessed.Format(time.RFC3339))
	}
	return w.Flush()
}

func newMemoryClearCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Forget every remembered album",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMemory(root, func(mem *memory.Memory) error {
				if err := mem.Clear(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Album memory cleared.")
				return nil
			})
		},
	}
}

func newMemoryForgetCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "forget <artwork>",
		Short: "Forget the remembered colors of one album",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMemory(root, func(mem *memory.Memory) error {
				if err := mem.Reset(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Forgot %s.\n", memory.NormalizeID(args[0]))
				return nil
			})
		},
	}
}
