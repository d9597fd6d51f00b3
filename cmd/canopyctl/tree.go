package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/canopy/internal/change"
	"github.com/fyrsmithlabs/canopy/internal/tree"
)

var (
	treeJSON bool
	addName  string
)

func init() {
	treeCmd.Flags().BoolVar(&treeJSON, "json", false, "Output the tree as JSON")
	addCmd.Flags().StringVar(&addName, "name", "", "Name of the new node")

	rootCmd.AddCommand(treeCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(renameCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(triggerCmd)
}

var treeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Print the current tree",
	Args:  cobra.NoArgs,
	RunE:  runTree,
}

var addCmd = &cobra.Command{
	Use:   "add <parent-id> <kind> [value]",
	Short: "Add a node",
	Long: `Add a node under an existing parent.

Kinds: folder, button, float32, float64, int32, int64, uint32, uint64,
string, bool.

Examples:
  # Add a folder
  canopyctl add 6f1c... folder --name settings

  # Add a counter that starts at 5
  canopyctl add 6f1c... int64 5 --name count`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runAdd,
}

var renameCmd = &cobra.Command{
	Use:   "rename <id> <name>",
	Short: "Rename a node",
	Args:  cobra.ExactArgs(2),
	RunE:  runRename,
}

var setCmd = &cobra.Command{
	Use:   "set <id> <kind> <value>",
	Short: "Replace a node's value",
	Args:  cobra.ExactArgs(3),
	RunE:  runSet,
}

var removeCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a node and its subtree",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

var triggerCmd = &cobra.Command{
	Use:   "trigger <id>",
	Short: "Press a button node",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrigger,
}

func runTree(cmd *cobra.Command, _ []string) error {
	resp, err := newAPI().Tree(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if treeJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	fmt.Fprintf(out, "hash %s\n", resp.Hash)
	printView(out, resp.Root, 0)
	return nil
}

// printView writes one line per node, indented by depth.
func printView(w io.Writer, v tree.View, depth int) {
	name := "-"
	if v.Name != nil {
		name = *v.Name
	}
	fmt.Fprintf(w, "%s%s %s %s [%s]\n", strings.Repeat("  ", depth), name, tree.FormatData(v.Data.Data), v.ID, v.Permission)
	for _, c := range v.Children {
		printView(w, c, depth+1)
	}
}

func parseValue(kind, raw string) (tree.Data, error) {
	k, err := tree.ParseKind(kind)
	if err != nil {
		return nil, err
	}
	return tree.ParseData(k, raw)
}

func runAdd(cmd *cobra.Command, args []string) error {
	parent, err := parseID(args[0])
	if err != nil {
		return err
	}
	raw := ""
	if len(args) == 3 {
		raw = args[2]
	}
	data, err := parseValue(args[1], raw)
	if err != nil {
		return err
	}
	c := change.NodeAdded{ID: uuid.New(), Parent: parent, Data: data}
	if addName != "" {
		c.Name = tree.Name(addName)
	}
	return apply(cmd, c)
}

func runRename(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	return apply(cmd, change.NodeChangedName{ID: id, Name: args[1]})
}

func runSet(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	data, err := parseValue(args[1], args[2])
	if err != nil {
		return err
	}
	return apply(cmd, change.NodeChangedData{ID: id, Data: data})
}

func runRemove(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	return apply(cmd, change.NodeRemoved{ID: id})
}

func runTrigger(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	hash, err := newAPI().Trigger(cmd.Context(), id)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "triggered %s\nhash %s\n", id, hash)
	return nil
}

func apply(cmd *cobra.Command, c change.Change) error {
	hash, err := newAPI().Apply(cmd.Context(), c)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, change.Describe(c))
	fmt.Fprintf(out, "hash %s\n", hash)
	return nil
}
