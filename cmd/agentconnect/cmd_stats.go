package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ykute07/agentconnect/pkg/store"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show persisted conversation statistics",
		RunE:  runStats,
	}
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigFrom(cmd)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.StorePath())
	if err != nil {
		return err
	}
	defer st.Close()

	records, err := st.LoadConversations()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No conversations recorded.")
		return nil
	}

	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PEER\tMESSAGES\tLAST MESSAGE")
	for _, id := range ids {
		rec := records[id]
		fmt.Fprintf(w, "%s\t%d\t%s\n", rec.PeerID, rec.MessageCount,
			rec.LastMessageTime.Local().Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}
