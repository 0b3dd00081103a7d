package app

import (
	"context"
	"fmt"
	"io"

	"trustline/internal/domain"
)

// Printer writes events as single lines.
type Printer struct {
	W io.Writer
}

var _ domain.EventSink = Printer{}

func (p Printer) Emit(_ context.Context, ev domain.Event) {
	line := ev.Kind.String()
	if !ev.Contact.IsZero() {
		line += " contact=" + ev.Contact.String()
	}
	if !ev.Instance.IsZero() {
		line += " instance=" + ev.Instance.String()
	}
	if ev.Value != "" {
		line += " value=" + ev.Value
	}
	_, _ = fmt.Fprintln(p.W, line)
}
