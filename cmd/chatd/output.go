package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"chatd/pkg/types"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printModels(w io.Writer, models []types.Model) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE ID\tSIZE\tQUANT\tDOWNLOADED")
	for _, m := range models {
		for _, f := range m.Files {
			mark := ""
			if f.Downloaded {
				mark = "yes"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.ID, f.Size, f.Quantization, mark)
		}
	}
	return tw.Flush()
}

func printDownloaded(w io.Writer, files []types.DownloadedFile) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE ID\tBYTES\tDOWNLOADED AT\tPATH")
	for _, f := range files {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", f.File.ID, f.FileSize, f.DownloadedAt.Format("2006-01-02 15:04"), f.File.DownloadedPath)
	}
	return tw.Flush()
}

func printPending(w io.Writer, pending []types.PendingDownload) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE ID\tSTATUS\tPROGRESS\tERROR")
	for _, p := range pending {
		fmt.Fprintf(tw, "%s\t%s\t%.1f%%\t%s\n", p.File.ID, p.Status, p.Progress, oneLine(p.LastError))
	}
	return tw.Flush()
}

func oneLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + "..."
	}
	return s
}

// progressBar renders a fixed width bar for a percentage in [0, 100].
func progressBar(pct float64, width int) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	filled := int(pct / 100 * float64(width))
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}
