package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

type outputMode struct {
	json bool
	w    io.Writer
}

func (o outputMode) writer() io.Writer {
	if o.w == nil {
		return os.Stdout
	}
	return o.w
}

// render prints value as JSON in --json mode, otherwise the rows built by
// rows as an aligned table. rows is only called for table output.
func (o outputMode) render(value any, rows func() [][]string) {
	if o.json {
		o.printJSON(value)
		return
	}
	o.table(rows())
}

func (o outputMode) printJSON(value any) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		fatal("format json", err)
	}
	fmt.Fprintln(o.writer(), string(data))
}

func (o outputMode) table(rows [][]string) {
	w := tabwriter.NewWriter(o.writer(), 2, 4, 2, ' ', 0)
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
}
