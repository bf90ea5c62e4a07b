package cli

import (
	"encoding/json"
	"fmt"
	"io"
)

// advanceLine is one emitted counter pair.
type advanceLine struct {
	Value int64 `json:"value"`
	Cycle int64 `json:"cycle"`
}

// lineWriter prints one line per emitted pair.
type lineWriter struct {
	format string
	w      io.Writer
}

func (l lineWriter) write(line advanceLine) error {
	if l.format == "json" {
		data, err := json.Marshal(line)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(l.w, "%s\n", data)
		return err
	}
	_, err := fmt.Fprintf(l.w, "value=%d cycle=%d\n", line.Value, line.Cycle)
	return err
}
