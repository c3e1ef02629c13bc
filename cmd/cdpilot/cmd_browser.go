package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"cdpilot/internal/browser"

	"github.com/spf13/cobra"
)

// =============================================================================
// SESSION COMMANDS - status, tabs, snapshot
// =============================================================================

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check that the CDP endpoint is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(timeout)
		defer cancel()
		st := browser.NewManager(cfg.Browser).Status(ctx, "")
		if err := printJSON(cmd.OutOrStdout(), st); err != nil {
			return err
		}
		if !st.Reachable {
			return fmt.Errorf("cdp endpoint %s unreachable", st.Endpoint)
		}
		return nil
	},
}

var tabsCmd = &cobra.Command{
	Use:   "tabs",
	Short: "List, open, focus and close tabs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(ctx context.Context, m *browser.Manager) error {
			tabs, err := m.Tabs(ctx, "")
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), tabs)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TARGET\tTITLE\tURL")
			for _, t := range tabs {
				fmt.Fprintf(w, "%s\t%s\t%s\n", t.TargetID, t.Title, t.URL)
			}
			return w.Flush()
		})
	},
}

var tabsOpenCmd = &cobra.Command{
	Use:   "open [url]",
	Short: "Open a new tab",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url := ""
		if len(args) == 1 {
			url = args[0]
		}
		return withManager(func(ctx context.Context, m *browser.Manager) error {
			tab, err := m.OpenTab(ctx, "", url)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), tab)
		})
	},
}

var tabsFocusCmd = &cobra.Command{
	Use:   "focus <target-id>",
	Short: "Bring a tab to the front",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(ctx context.Context, m *browser.Manager) error {
			return m.FocusTab(ctx, "", args[0])
		})
	},
}

var tabsCloseCmd = &cobra.Command{
	Use:   "close <target-id>",
	Short: "Close a tab",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(ctx context.Context, m *browser.Manager) error {
			return m.CloseTab(ctx, "", args[0])
		})
	},
}

func historyCmd(op, short string) *cobra.Command {
	return &cobra.Command{
		Use:   op,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(func(ctx context.Context, m *browser.Manager) error {
				tab, err := m.History(ctx, "", targetID, op)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), tab)
			})
		},
	}
}

var (
	jsonOut bool
	snapReq browser.SnapshotRequest
	maxDepth int
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Capture the page's accessibility tree with element refs",
	Long: `Captures an accessibility snapshot. Formats:
  role  indented tree, refs resolved by role and name (default)
  ai    compact tree for language models, refs bound to DOM nodes
  aria  flat node list

Refs from the latest snapshot of each tab are saved for later act calls.`,
	Args: cobra.NoArgs,
	RunE: runSnapshot,
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	req := snapReq
	req.TargetID = targetID
	if cmd.Flags().Changed("max-depth") {
		d := maxDepth
		req.MaxDepth = &d
	}
	return withManager(func(ctx context.Context, m *browser.Manager) error {
		res, err := m.Snapshot(ctx, "", req)
		if err != nil {
			return err
		}
		if jsonOut || res.Format == browser.FormatAria {
			return printJSON(cmd.OutOrStdout(), res)
		}
		fmt.Fprintln(cmd.OutOrStdout(), res.Snapshot)
		return nil
	})
}

// =============================================================================
// PAGE STATE COMMANDS - console, cookies, storage
// =============================================================================

var (
	consoleLevel  string
	consoleFor    time.Duration
	consoleDrain  bool
	requestFilter string
)

// collect waits for events to arrive on the fresh connection before the
// buffers are read.
func collect(ctx context.Context, m *browser.Manager) error {
	if _, _, err := m.Page(ctx, "", targetID); err != nil {
		return err
	}
	if consoleFor <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(consoleFor):
		return nil
	}
}

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Show console messages of a tab",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(ctx context.Context, m *browser.Manager) error {
			if err := collect(ctx, m); err != nil {
				return err
			}
			msgs, err := m.Console(ctx, "", targetID, consoleLevel)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), msgs)
		})
	},
}

var consoleErrorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "Show uncaught page errors",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(ctx context.Context, m *browser.Manager) error {
			if err := collect(ctx, m); err != nil {
				return err
			}
			errs, err := m.Errors(ctx, "", targetID, consoleDrain)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), errs)
		})
	},
}

var consoleRequestsCmd = &cobra.Command{
	Use:   "requests",
	Short: "Show network requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(ctx context.Context, m *browser.Manager) error {
			if err := collect(ctx, m); err != nil {
				return err
			}
			reqs, err := m.Requests(ctx, "", targetID, requestFilter, consoleDrain)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), reqs)
		})
	},
}

var cookiesCmd = &cobra.Command{
	Use:   "cookies",
	Short: "List, set or clear cookies",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(ctx context.Context, m *browser.Manager) error {
			cookies, err := m.Cookies(ctx, "", targetID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), cookies)
		})
	},
}

var newCookie browser.Cookie

var cookiesSetCmd = &cobra.Command{
	Use:   "set <name> <value>",
	Short: "Set a cookie (URL defaults to the page's)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newCookie
		c.Name, c.Value = args[0], args[1]
		return withManager(func(ctx context.Context, m *browser.Manager) error {
			return m.SetCookie(ctx, "", targetID, c)
		})
	},
}

var cookiesClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear all browser cookies",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(ctx context.Context, m *browser.Manager) error {
			return m.ClearCookies(ctx, "", targetID)
		})
	},
}

var storageKind string

var storageCmd = &cobra.Command{
	Use:   "storage <get|set|delete|clear> [key] [value]",
	Short: "Read or modify localStorage or sessionStorage",
	Args:  cobra.RangeArgs(1, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		op, key, value, err := storageArgs(args)
		if err != nil {
			return err
		}
		return withManager(func(ctx context.Context, m *browser.Manager) error {
			items, err := m.Storage(ctx, "", targetID, storageKind, op, key, value)
			if err != nil {
				return err
			}
			if op == browser.StorageGet {
				return printJSON(cmd.OutOrStdout(), items)
			}
			return nil
		})
	},
}

func storageArgs(args []string) (op, key, value string, err error) {
	op = args[0]
	if len(args) > 1 {
		key = args[1]
	}
	if len(args) > 2 {
		value = args[2]
	}
	switch op {
	case browser.StorageGet, browser.StorageClear:
	case browser.StorageSet:
		if len(args) != 3 {
			return "", "", "", fmt.Errorf("storage set needs a key and a value")
		}
	case browser.StorageDelete:
		if key == "" {
			return "", "", "", fmt.Errorf("storage delete needs a key")
		}
	default:
		return "", "", "", fmt.Errorf("unknown storage operation %q", op)
	}
	return op, key, value, nil
}

func init() {
	tabsCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Print JSON")
	tabsCmd.AddCommand(tabsOpenCmd, tabsFocusCmd, tabsCloseCmd,
		historyCmd(browser.HistoryBack, "Go back in the tab's history"),
		historyCmd(browser.HistoryForward, "Go forward in the tab's history"),
		historyCmd(browser.HistoryReload, "Reload the tab"))

	f := snapshotCmd.Flags()
	f.BoolVar(&jsonOut, "json", false, "Print the full result as JSON")
	f.StringVar(&snapReq.Format, "format", browser.FormatRole, "role, ai or aria")
	f.BoolVarP(&snapReq.Interactive, "interactive", "i", false, "Only interactive elements")
	f.BoolVar(&snapReq.Compact, "compact", false, "Drop unnamed structural nodes")
	f.IntVar(&maxDepth, "max-depth", 0, "Maximum tree depth")
	f.IntVar(&snapReq.Limit, "limit", 0, "Maximum nodes (aria)")
	f.IntVar(&snapReq.MaxChars, "max-chars", 0, "Maximum characters (ai)")
	f.StringVar(&snapReq.Selector, "selector", "", "Scope to the element matching this CSS selector")
	f.StringVar(&snapReq.FrameSelector, "frame", "", "Scope to the iframe matching this CSS selector")

	consoleCmd.PersistentFlags().DurationVar(&consoleFor, "for", 0, "Collect events for this long before printing")
	consoleCmd.PersistentFlags().BoolVar(&consoleDrain, "clear", false, "Clear the buffer after reading")
	consoleCmd.Flags().StringVar(&consoleLevel, "level", "", "Only messages of this level (log, warning, error, ...)")
	consoleRequestsCmd.Flags().StringVar(&requestFilter, "filter", "", "Only URLs containing this text")
	consoleCmd.AddCommand(consoleErrorsCmd, consoleRequestsCmd)

	cf := cookiesSetCmd.Flags()
	cf.StringVar(&newCookie.URL, "url", "", "Cookie URL")
	cf.StringVar(&newCookie.Domain, "domain", "", "Cookie domain")
	cf.StringVar(&newCookie.Path, "path", "", "Cookie path")
	cf.BoolVar(&newCookie.Secure, "secure", false, "Secure cookie")
	cf.BoolVar(&newCookie.HTTPOnly, "http-only", false, "HTTP-only cookie")
	cf.Int64Var(&newCookie.Expires, "expires", 0, "Expiry as Unix seconds")
	cookiesCmd.AddCommand(cookiesSetCmd, cookiesClearCmd)

	storageCmd.Flags().StringVar(&storageKind, "kind", "local", "local or session")
}
