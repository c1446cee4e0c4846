package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/victorjacobs/go-vallox/capture"
	"github.com/victorjacobs/go-vallox/vallox"
)

var dumpCmd = &cobra.Command{
	Use:   "dump <file>",
	Short: "Print a capture file",
	Long:  `Print every frame stored in a capture file written by monitor --capture.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runDump,
}

func init() {
	rootCmd.AddCommand(dumpCmd)
}

func runDump(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	return dump(f, vallox.DefaultRegistry(), cmd.OutOrStdout())
}

func dump(r io.Reader, registry *vallox.Registry, out io.Writer) error {
	reader := capture.NewReader(r)

	var records, invalid int
	session := ""
	for {
		rec, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		if rec.Session != session {
			session = rec.Session
			fmt.Fprintf(out, "# session %v\n", session)
		}

		records++
		if !rec.Valid {
			invalid++
			fmt.Fprintln(out, rec)
			continue
		}

		line := rec.String()
		if t, err := vallox.Decode(rec.Frame); err == nil && !t.IsPoll() {
			line = fmt.Sprintf("%v %v %v", rec.Time.Format("15:04:05.000"), rec.Direction, describe(registry, t))
		}
		fmt.Fprintln(out, line)
	}

	fmt.Fprintf(out, "%d frames, %d invalid\n", records, invalid)
	return nil
}
