// Package report renders catalog output for the console
package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/tidwall/pretty"
)

// Printer writes titled sections and JSON records to w.
// Write errors on plain text are ignored, as with fmt.Println.
type Printer struct {
	w     io.Writer
	color bool
}

// New creates a Printer. With color set, records get ANSI terminal colours.
func New(w io.Writer, color bool) *Printer {
	return &Printer{w: w, color: color}
}

// Section starts a block with a blank line and a title
func (p *Printer) Section(title string) {
	fmt.Fprintf(p.w, "\n%s\n", title)
}

func (p *Printer) Printf(format string, args ...any) {
	fmt.Fprintf(p.w, format+"\n", args...)
}

// Records prints v as indented JSON
func (p *Printer) Records(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}

	out := pretty.Pretty(raw)
	if p.color {
		out = pretty.Color(out, nil)
	}
	if _, err := p.w.Write(out); err != nil {
		return fmt.Errorf("write records: %w", err)
	}
	return nil
}
