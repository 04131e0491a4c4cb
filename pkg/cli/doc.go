/*
Package cli holds the helpers shared by the ratchet commands.

Output Formatting:

Results print as aligned text, JSON or CSV. Values implementing Table get a
columnar rendering; everything else is printed with %v in text mode:

	formatter := cli.NewFormatter(cli.FormatJSON)
	if err := formatter.FormatTo(os.Stdout, copies); err != nil {
		return err
	}

Exit Codes:

ExitCode distinguishes configuration errors (2) and retention rejections (3)
from other failures (1).

Signal Handling:

	ctx, stop := cli.SignalContext(context.Background())
	defer stop()
*/
package cli
