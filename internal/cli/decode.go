package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ardnew/usblog/pkg"
	"github.com/ardnew/usblog/record"
)

func newDecodeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode [file]",
		Short: "Decode a captured log stream",
		Long:  "Decode reads the raw bytes of a bulk IN capture (or stdin when no file or \"-\" is given) and prints one record per line. Undecodable frames are skipped.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return decodeStream(in, cmd.OutOrStdout())
		},
	}
	return cmd
}

// decodeStream prints every record in r to w.
func decodeStream(r io.Reader, w io.Writer) error {
	s := record.NewScanner(r)
	for s.Scan() {
		rec := s.Record()
		if _, err := fmt.Fprintln(w, rec.String()); err != nil {
			return err
		}
	}
	if n, err := s.Corrupt(); n > 0 {
		pkg.LogWarn(pkg.ComponentCLI, "skipped corrupt frames",
			"count", n,
			"last", err)
	}
	if err := s.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}
