package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/use-agent/casescan/store"
)

func init() {
	rootCmd.AddCommand(casesCmd)
}

var casesCmd = &cobra.Command{
	Use:   "cases <case>",
	Short: "Lists the artifacts recorded for a case.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Store.Driver == "none" {
			return fmt.Errorf("scan history is disabled (CASESCAN_DB_DRIVER=none)")
		}

		st, err := store.Open(cmd.Context(), cfg.Store.Driver, cfg.Store.DSN)
		if err != nil {
			return err
		}
		defer st.Close()

		artifacts, err := st.Artifacts(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(artifacts) == 0 {
			return fmt.Errorf("no artifacts recorded for case %s", args[0])
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CATEGORY\tLINK\tPATH\tSOURCE")
		for _, a := range artifacts {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", a.Category, a.LinkIndex, a.Path, a.SourceURL)
		}
		return w.Flush()
	},
}
