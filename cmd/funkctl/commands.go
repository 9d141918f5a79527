package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/funk"
	"github.com/hupe1980/funk/wksp"
)

type app struct {
	cfg        Config
	configPath string
}

func newRootCmd() *cobra.Command {
	a := &app{cfg: DefaultConfig()}

	root := &cobra.Command{
		Use:   "funkctl",
		Short: "Inspect and manage funk stores in file-backed workspaces",
		Long: `funkctl creates, inspects, verifies and deletes funk stores living in
a file-backed workspace. Settings come from an optional YAML file
(--config); flags given on the command line win over the file.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.loadConfig,
	}

	f := root.PersistentFlags()
	f.StringVarP(&a.configPath, "config", "c", "", "YAML config file")
	f.StringVarP(&a.cfg.Workspace.Path, "workspace", "w", a.cfg.Workspace.Path, "workspace file")
	f.Uint64VarP(&a.cfg.Store.Tag, "tag", "t", a.cfg.Store.Tag, "workspace tag of the store")
	f.StringVar(&a.cfg.Log.Level, "log-level", a.cfg.Log.Level, "log level (debug, info, warn, error)")
	f.StringVar(&a.cfg.Log.Format, "log-format", a.cfg.Log.Format, "log format (text, json)")
	f.BoolVarP(&a.cfg.Log.Verbose, "verbose", "v", a.cfg.Log.Verbose, "warn about rejected operations")

	root.AddCommand(
		a.newCmd(),
		a.infoCmd(),
		a.verifyCmd(),
		a.deleteCmd(),
		a.allocationsCmd(),
		a.treeCmd(),
		a.recordsCmd(),
	)
	return root
}

// loadConfig merges the config file under the flags the user set.
func (a *app) loadConfig(cmd *cobra.Command, _ []string) error {
	if a.configPath != "" {
		cfg, err := LoadConfig(a.configPath)
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		override := func(name string, apply func()) {
			if flags.Changed(name) {
				apply()
			}
		}
		override("workspace", func() { cfg.Workspace.Path = a.cfg.Workspace.Path })
		override("size", func() { cfg.Workspace.Size = a.cfg.Workspace.Size })
		override("part-max", func() { cfg.Workspace.PartMax = a.cfg.Workspace.PartMax })
		override("tag", func() { cfg.Store.Tag = a.cfg.Store.Tag })
		override("seed", func() { cfg.Store.Seed = a.cfg.Store.Seed })
		override("txn-max", func() { cfg.Store.TxnMax = a.cfg.Store.TxnMax })
		override("rec-max", func() { cfg.Store.RecMax = a.cfg.Store.RecMax })
		override("policy", func() { cfg.Store.Policy = a.cfg.Store.Policy })
		override("log-level", func() { cfg.Log.Level = a.cfg.Log.Level })
		override("log-format", func() { cfg.Log.Format = a.cfg.Log.Format })
		override("verbose", func() { cfg.Log.Verbose = a.cfg.Log.Verbose })
		a.cfg = cfg
	}
	return a.cfg.Validate()
}

func (a *app) openWorkspace() (*wksp.Workspace, error) {
	ws, err := wksp.Open(a.cfg.Workspace.Path)
	if err != nil {
		return nil, fmt.Errorf("opening workspace %s: %w", a.cfg.Workspace.Path, err)
	}
	return ws, nil
}

// withStore joins the configured store and runs fn against it.
func (a *app) withStore(cmd *cobra.Command, fn func(*wksp.Workspace, *funk.Store) error) error {
	ws, err := a.openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	gaddr, ok := funk.Locate(ws, a.cfg.Store.Tag)
	if !ok {
		return fmt.Errorf("no store with tag %d in %s", a.cfg.Store.Tag, a.cfg.Workspace.Path)
	}
	s, err := funk.Join(ws, gaddr, a.cfg.storeOptions(cmd.ErrOrStderr())...)
	if err != nil {
		return err
	}
	defer s.Leave()

	return fn(ws, s)
}

func (a *app) newCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create a store, creating the workspace file if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws, err := a.openOrCreateWorkspace()
			if err != nil {
				return err
			}
			defer ws.Close()

			if g, ok := funk.Locate(ws, a.cfg.Store.Tag); ok {
				return fmt.Errorf("store with tag %d already exists at %#x", a.cfg.Store.Tag, g)
			}

			sc := a.cfg.Store
			s, err := funk.New(ws, sc.Tag, sc.Seed, sc.TxnMax, sc.RecMax, a.cfg.storeOptions(cmd.ErrOrStderr())...)
			if err != nil {
				return err
			}
			defer s.Leave()

			if err := ws.Sync(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created store tag=%d gaddr=%#x txn_max=%d rec_max=%d policy=%s\n",
				sc.Tag, s.GAddr(), s.TxnMax(), s.RecMax(), s.Policy())
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVar(&a.cfg.Workspace.Size, "size", a.cfg.Workspace.Size, "workspace size in bytes when creating the file")
	f.IntVar(&a.cfg.Workspace.PartMax, "part-max", a.cfg.Workspace.PartMax, "partition table entries when creating the file")
	f.Uint64Var(&a.cfg.Store.Seed, "seed", a.cfg.Store.Seed, "hash seed")
	f.IntVar(&a.cfg.Store.TxnMax, "txn-max", a.cfg.Store.TxnMax, "in-preparation transaction capacity")
	f.IntVar(&a.cfg.Store.RecMax, "rec-max", a.cfg.Store.RecMax, "record capacity")
	f.StringVar(&a.cfg.Store.Policy, "policy", a.cfg.Store.Policy, "canonical state freezing policy (with-children, during-publish)")
	return cmd
}

func (a *app) openOrCreateWorkspace() (*wksp.Workspace, error) {
	_, err := os.Stat(a.cfg.Workspace.Path)
	switch {
	case err == nil:
		return a.openWorkspace()
	case errors.Is(err, fs.ErrNotExist):
		ws, err := wksp.Create(a.cfg.Workspace.Path, a.cfg.Workspace.Size, wksp.WithPartMax(a.cfg.Workspace.PartMax))
		if err != nil {
			return nil, fmt.Errorf("creating workspace %s: %w", a.cfg.Workspace.Path, err)
		}
		return ws, nil
	default:
		return nil, err
	}
}

func (a *app) infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print store geometry and occupancy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd, func(_ *wksp.Workspace, s *funk.Store) error {
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "gaddr:          %#x\n", s.GAddr())
				fmt.Fprintf(w, "tag:            %d\n", s.WkspTag())
				fmt.Fprintf(w, "seed:           %#x\n", s.Seed())
				fmt.Fprintf(w, "policy:         %s\n", s.Policy())
				fmt.Fprintf(w, "transactions:   %d/%d\n", s.TxnCnt(), s.TxnMax())
				fmt.Fprintf(w, "records:        %d/%d\n", s.RecCnt(), s.RecMax())
				fmt.Fprintf(w, "last published: %s\n", s.LastPublish())
				fmt.Fprintf(w, "root frozen:    %t\n", s.LastPublishIsFrozen())
				return nil
			})
		},
	}
}

func (a *app) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the workspace partition table and the store for corruption",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd, func(ws *wksp.Workspace, s *funk.Store) error {
				if err := ws.Verify(); err != nil {
					return fmt.Errorf("workspace: %w", err)
				}
				if err := s.Verify(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			})
		},
	}
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Delete the store and free its workspace allocations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws, err := a.openWorkspace()
			if err != nil {
				return err
			}
			defer ws.Close()

			gaddr, ok := funk.Locate(ws, a.cfg.Store.Tag)
			if !ok {
				return fmt.Errorf("no store with tag %d in %s", a.cfg.Store.Tag, a.cfg.Workspace.Path)
			}
			if err := funk.Delete(ws, gaddr, a.cfg.storeOptions(cmd.ErrOrStderr())...); err != nil {
				return err
			}
			if err := ws.Sync(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted store tag=%d gaddr=%#x\n", a.cfg.Store.Tag, gaddr)
			return nil
		},
	}
}

func (a *app) allocationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "allocations",
		Aliases: []string{"ls"},
		Short:   "List the workspace allocations",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws, err := a.openWorkspace()
			if err != nil {
				return err
			}
			defer ws.Close()

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%-18s %12s %8s\n", "GADDR", "SIZE", "TAG")
			for al := range ws.Allocations() {
				fmt.Fprintf(w, "%-18s %12d %8d\n", fmt.Sprintf("%#x", al.GAddr), al.Size, al.Tag)
			}

			u := ws.Usage()
			fmt.Fprintf(w, "%d allocations, %d bytes used, %d bytes free (largest %d), %d/%d partitions\n",
				u.AllocatedCount, u.UsedBytes, u.FreeBytes, u.LargestFree, u.Partitions, u.PartitionMax)
			return nil
		},
	}
}

func (a *app) treeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree",
		Short: "Print the in-preparation transaction tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd, func(_ *wksp.Workspace, s *funk.Store) error {
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "root (last published %s) records=%d\n", s.LastPublish(), countRecords(s, nil))
				printChildren(w, s, nil, 1)
				return nil
			})
		},
	}
}

func printChildren(w io.Writer, s *funk.Store, parent *funk.Txn, depth int) {
	for c := s.ChildHead(parent); c != nil; c = s.SiblingNext(c) {
		fmt.Fprintf(w, "%s%s records=%d\n", strings.Repeat("  ", depth), c.XID(), countRecords(s, c))
		printChildren(w, s, c, depth+1)
	}
}

func countRecords(s *funk.Store, txn *funk.Txn) int {
	n := 0
	for range s.Records(txn) {
		n++
	}
	return n
}

func (a *app) recordsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "records [xid]",
		Short: "List the records of a transaction, or of the canonical state",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd, func(_ *wksp.Workspace, s *funk.Store) error {
				var txn *funk.Txn
				if len(args) == 1 {
					xid, err := funk.ParseXID(args[0])
					if err != nil {
						return err
					}
					if txn = s.QueryTxn(xid); txn == nil {
						return fmt.Errorf("transaction %s is not in preparation", xid)
					}
				}

				w := cmd.OutOrStdout()
				for r := range s.Records(txn) {
					v := r.Val()
					state := "live"
					if r.IsErase() {
						state = "erase"
					}
					fmt.Fprintf(w, "%s %-5s gaddr=%#x size=%d max=%d\n", r.Key(), state, v.GAddr, v.Size, v.Max)
				}
				return nil
			})
		},
	}
}
