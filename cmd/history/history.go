// Package history implements the history and stats commands, which read
// detection records straight from the configured database.
package history

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tphakala/emotion-go/internal/conf"
	"github.com/tphakala/emotion-go/internal/datastore"
	"github.com/tphakala/emotion-go/internal/emotion"
)

const timeLayout = "2006-01-02 15:04:05"

// Command creates the history command.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		userName string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent detections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(settings, func(ds datastore.Interface) error {
				return PrintHistory(cmd.OutOrStdout(), ds, userName, limit)
			})
		},
	}

	cmd.Flags().StringVarP(&userName, "user", "u", "", "Only show detections for this user")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of records to show")

	return cmd
}

// StatsCommand creates the stats command.
func StatsCommand(settings *conf.Settings) *cobra.Command {
	var userName string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show detection counts per emotion",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(settings, func(ds datastore.Interface) error {
				return PrintStats(cmd.OutOrStdout(), ds, userName)
			})
		},
	}

	cmd.Flags().StringVarP(&userName, "user", "u", "", "Only count detections for this user")

	return cmd
}

func withStore(settings *conf.Settings, fn func(datastore.Interface) error) error {
	ds, err := datastore.New(settings, nil)
	if err != nil {
		return err
	}
	if err := ds.Open(); err != nil {
		return err
	}
	defer ds.Close()
	return fn(ds)
}

// PrintHistory writes the most recent detections as a table.
func PrintHistory(w io.Writer, ds datastore.Interface, userName string, limit int) error {
	records, err := ds.List(userName, limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(w, "no detections")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tUSER\tEMOTION\tCONFIDENCE\tMETHOD")
	for i := range records {
		r := &records[i]
		confidence := "-"
		if r.Confidence != nil {
			confidence = fmt.Sprintf("%.1f%%", *r.Confidence*100)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Timestamp.Format(timeLayout), r.UserName, r.DetectedEmotion, confidence, r.DetectionMethod)
	}
	return tw.Flush()
}

// PrintStats writes per-emotion counts, listing every label even when its
// count is zero. Sentinel labels are listed after the emotions when present.
func PrintStats(w io.Writer, ds datastore.Interface, userName string) error {
	rows, err := ds.Statistics(userName)
	if err != nil {
		return err
	}

	counts := make(map[string]int64, len(rows))
	var total int64
	for _, row := range rows {
		counts[row.Emotion] = row.Count
		total += row.Count
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "EMOTION\tCOUNT")
	for _, label := range emotion.Labels() {
		fmt.Fprintf(tw, "%s\t%d\n", label, counts[label])
	}
	for _, label := range []string{emotion.NoFaceDetected, emotion.ErrorLabel} {
		if n := counts[label]; n > 0 {
			fmt.Fprintf(tw, "%s\t%d\n", label, n)
		}
	}
	fmt.Fprintf(tw, "Total\t%d\n", total)
	return tw.Flush()
}
