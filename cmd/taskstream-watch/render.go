package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/LAAOUAFIFATIHA/taskstream/internal/domain"
)

const maxDescriptionWidth = 60

func renderBoard(out io.Writer, stream domain.Stream, tasks []domain.Task, now time.Time) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "== %s (%d tasks) @ %s ==\n", stream.Name, len(tasks), now.Format(time.TimeOnly))
	if len(tasks) == 0 {
		fmt.Fprintln(tw, "  no suggestions yet")
		return tw.Flush()
	}

	fmt.Fprintln(tw, "VOTES\tSTATUS\tFROM\tSUGGESTION")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", t.Votes, t.Status, t.UserName, truncate(t.Description, maxDescriptionWidth))
	}
	return tw.Flush()
}

func truncate(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	return string(runes[:width-1]) + "…"
}
