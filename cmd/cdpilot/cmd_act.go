package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"cdpilot/internal/actions"
	"cdpilot/internal/browser"

	"github.com/spf13/cobra"
)

var actOut string

// actCmd runs one action request against a ref from an earlier snapshot.
var actCmd = &cobra.Command{
	Use:   "act [request-json | -]",
	Short: "Run an action (click, type, fill, wait, screenshot, ...)",
	Long: `Runs one action. The request is a JSON object whose "kind" is one of:
  ` + kindList() + `

Pass the JSON as the argument, or "-" to read it from stdin.

Examples:
  cdpilot act '{"kind":"click","ref":"e3"}'
  cdpilot act '{"kind":"type","ref":"e5","text":"hello","submit":true}'
  cdpilot act '{"kind":"wait","url":"**/dashboard*"}'
  cdpilot act --out page.png '{"kind":"screenshot","fullPage":true}'`,
	Args: cobra.ExactArgs(1),
	RunE: runAct,
}

func init() {
	actCmd.Flags().StringVarP(&actOut, "out", "o", "", "Write screenshot bytes to this file")
}

func kindList() string {
	names := make([]string, 0, len(actions.Kinds))
	for _, k := range actions.Kinds {
		names = append(names, string(k))
	}
	return strings.Join(names, ", ")
}

// parseActRequest decodes the request from arg, or from stdin when arg is "-".
func parseActRequest(arg string, stdin io.Reader) (actions.Request, error) {
	var req actions.Request
	data := []byte(arg)
	if arg == "-" {
		var err error
		if data, err = io.ReadAll(stdin); err != nil {
			return req, fmt.Errorf("read request: %w", err)
		}
	}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("invalid action request: %w", err)
	}
	return req, actions.Validate(req)
}

func runAct(cmd *cobra.Command, args []string) error {
	req, err := parseActRequest(args[0], cmd.InOrStdin())
	if err != nil {
		return err
	}
	return withManager(func(ctx context.Context, m *browser.Manager) error {
		res, err := actions.NewDispatcher(m).Execute(ctx, req, actions.Target{TargetID: targetID})
		if err != nil {
			return err
		}
		if len(res.Data) > 0 {
			path, err := writeScreenshot(res.Data, actOut, req.Type)
			if err != nil {
				return err
			}
			res.Path = path
			res.Data = nil
		}
		return printJSON(cmd.OutOrStdout(), res)
	})
}

// writeScreenshot stores image bytes at path, or in a temp file when path
// is empty.
func writeScreenshot(data []byte, path, imageType string) (string, error) {
	if path == "" {
		ext := ".png"
		if imageType == "jpeg" {
			ext = ".jpg"
		}
		f, err := os.CreateTemp("", "cdpilot-*"+ext)
		if err != nil {
			return "", err
		}
		defer f.Close()
		if _, err := f.Write(data); err != nil {
			return "", err
		}
		return f.Name(), nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, nil
}
