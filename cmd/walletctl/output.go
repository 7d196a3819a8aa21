package main

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

// printValue writes v to the app writer in the selected format.
func printValue(c *cli.Context, v any) error {
	raw, ok := v.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(v)
		if err != nil {
			return errors.Wrap(err, "encode output")
		}
		raw = b
	}
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}

	switch c.String(outputFlag.Name) {
	case formatYAML:
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return errors.Wrap(err, "decode output")
		}
		out, err := yaml.Marshal(doc)
		if err != nil {
			return errors.Wrap(err, "encode yaml")
		}
		_, err = c.App.Writer.Write(out)
		return err
	case formatJSON:
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			return errors.Wrap(err, "indent output")
		}
		_, err := fmt.Fprintln(c.App.Writer, buf.String())
		return err
	default:
		return errors.Newf("unknown output format %q", c.String(outputFlag.Name))
	}
}

// parseArgs reads each CLI argument as JSON, falling back to a plain string.
func parseArgs(args []string) []any {
	out := make([]any, 0, len(args))
	for _, a := range args {
		var v any
		if err := json.Unmarshal([]byte(a), &v); err == nil {
			out = append(out, v)
			continue
		}
		out = append(out, a)
	}
	return out
}
