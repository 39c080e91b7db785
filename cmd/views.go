package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"ordersync/internal/domain/order"
	"ordersync/internal/ports"
)

type orderView struct {
	ID            int64   `json:"id" yaml:"id"`
	Name          string  `json:"name" yaml:"name"`
	Description   *string `json:"description" yaml:"description"`
	EffectiveDate *string `json:"effectiveDate" yaml:"effectiveDate"`
	Status        string  `json:"status" yaml:"status"`
}

func toOrderView(e order.Entity) orderView {
	v := orderView{
		ID:          e.ID,
		Name:        e.Name,
		Description: e.Description,
		Status:      e.Status.String(),
	}
	if e.EffectiveDate != nil {
		d := e.EffectiveDate.String()
		v.EffectiveDate = &d
	}
	return v
}

func toOrderViews(items []order.Entity) []orderView {
	out := make([]orderView, 0, len(items))
	for _, item := range items {
		out = append(out, toOrderView(item))
	}
	return out
}

type deadLetterView struct {
	ID       string    `json:"id" yaml:"id"`
	Key      string    `json:"key" yaml:"key"`
	Reason   string    `json:"reason" yaml:"reason"`
	Field    string    `json:"field,omitempty" yaml:"field,omitempty"`
	Detail   string    `json:"detail" yaml:"detail"`
	Source   string    `json:"source" yaml:"source"`
	FailedAt time.Time `json:"failedAt" yaml:"failedAt"`
	Payload  string    `json:"payload" yaml:"payload"`
}

func toDeadLetterViews(items []ports.DeadLetter) []deadLetterView {
	out := make([]deadLetterView, 0, len(items))
	for _, item := range items {
		out = append(out, deadLetterView{
			ID:       item.ID,
			Key:      item.Key,
			Reason:   item.Reason,
			Field:    item.Field,
			Detail:   item.Detail,
			Source:   item.Source,
			FailedAt: item.FailedAt.UTC(),
			Payload:  string(item.Payload),
		})
	}
	return out
}

// render writes v as json, yaml, or through table for text.
func render(w io.Writer, format string, v any, table func(*tabwriter.Writer)) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "", "text":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		table(tw)
		return tw.Flush()
	default:
		return fmt.Errorf("unsupported format %q (want text, json or yaml)", format)
	}
}

func orderTable(items []orderView) func(*tabwriter.Writer) {
	return func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "ID\tSTATUS\tEFFECTIVE\tNAME\tDESCRIPTION")
		for _, item := range items {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", item.ID, item.Status, deref(item.EffectiveDate), item.Name, deref(item.Description))
		}
	}
}

func deadLetterTable(items []deadLetterView) func(*tabwriter.Writer) {
	return func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "FAILED_AT\tKEY\tREASON\tFIELD\tSOURCE\tDETAIL")
		for _, item := range items {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", item.FailedAt.Format(time.RFC3339), item.Key, item.Reason, item.Field, item.Source, item.Detail)
		}
	}
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
