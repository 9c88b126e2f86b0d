package status

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/opd-ai/btspider/process"
)

// clearScreen homes the cursor and clears the terminal.
const clearScreen = "\033[H\033[2J\033(B\033[m"

// Watch copies the board at path to w every interval until ctx is done.
// It fails if the file does not exist when the watch starts.
func Watch(ctx context.Context, w io.Writer, path string, interval time.Duration, tp process.TimeProvider) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("status file: %w", err)
	}

	show := func() {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(w, "%sstatus file unavailable: %v\n", clearScreen, err)
			return
		}
		fmt.Fprint(w, clearScreen)
		w.Write(data)
	}

	show()
	process.Tick(ctx, tp, interval, show)
	return nil
}
