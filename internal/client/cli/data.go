package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iudanet/gophsync/internal/client/engine"
	"github.com/iudanet/gophsync/internal/client/storage"
	"github.com/iudanet/gophsync/internal/models"
)

func (c *Cli) putCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "put <table> <primary-key> <json>",
		Short: "Create or replace a record",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd.Context(), func(e *engine.Engine) error {
				rec, err := e.Put(cmd.Context(), args[0], args[1], json.RawMessage(args[2]))
				if err != nil {
					return err
				}
				c.printSaved(rec)
				return nil
			})
		},
	}
}

func (c *Cli) patchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "patch <table> <primary-key> <json>",
		Short: "Merge fields into a record",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd.Context(), func(e *engine.Engine) error {
				rec, err := e.Patch(cmd.Context(), args[0], args[1], json.RawMessage(args[2]))
				if err != nil {
					return err
				}
				c.printSaved(rec)
				return nil
			})
		},
	}
}

func (c *Cli) deleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <table> <primary-key>",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd.Context(), func(e *engine.Engine) error {
				if err := e.Delete(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				c.io.Printf("✓ Deleted %s/%s\n", args[0], args[1])
				c.io.Println("Run 'gophsync sync' to send the change to the server.")
				return nil
			})
		},
	}
}

func (c *Cli) getCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <table> <primary-key>",
		Short: "Show a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd.Context(), func(e *engine.Engine) error {
				rec, err := e.Get(cmd.Context(), args[0], args[1])
				if errors.Is(err, storage.ErrRecordNotFound) {
					return fmt.Errorf("record %s/%s not found", args[0], args[1])
				}
				if err != nil {
					return err
				}

				c.io.Printf("=== %s/%s ===\n", rec.Table, rec.PrimaryKey)
				c.io.Printf("Clock:   %d\n", rec.Clock)
				c.io.Printf("HLC:     %s\n", rec.HLC)
				c.io.Printf("Device:  %s\n", rec.DeviceID)
				c.io.Printf("Updated: %s\n", rec.UpdatedAt.Format("2006-01-02 15:04:05"))
				c.io.Println()
				c.io.Println(indent(rec.Payload))
				return nil
			})
		},
	}
}

func (c *Cli) listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list <table>",
		Short: "List the records of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd.Context(), func(e *engine.Engine) error {
				recs, err := e.List(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if len(recs) == 0 {
					c.io.Printf("No records in %s.\n", args[0])
					return nil
				}

				c.io.Printf("=== %s (%d) ===\n", args[0], len(recs))
				for _, rec := range recs {
					c.io.Printf("%-24s  clock %-4d  %s\n", rec.PrimaryKey, rec.Clock, compact(rec.Payload))
				}
				return nil
			})
		},
	}
}

func (c *Cli) printSaved(rec *models.Record) {
	c.io.Printf("✓ Saved %s/%s (clock %d)\n", rec.Table, rec.PrimaryKey, rec.Clock)
	c.io.Println("Run 'gophsync sync' to send the change to the server.")
}

func indent(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

func compact(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
