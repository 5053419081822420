package tmux

import "fmt"

// MainWindowWorkerPanes is the worker capacity of the main window. Pane 0 is
// always the admin.
const MainWindowWorkerPanes = 6

// SplitMainWindow splits window 0 of a fresh session into the admin pane plus
// six worker panes. The split order is fixed so that pane indices map to
// worker slots deterministically: pane 0 admin, panes 1..6 workers 1..6.
func (c *Client) SplitMainWindow(session string) error {
	win := session + ":0"

	// Three horizontal cuts produce four columns; admin keeps the left 40%.
	hSplits := []struct {
		pane    int
		percent int
	}{
		{0, 60},
		{1, 67},
		{2, 50},
	}
	for _, sp := range hSplits {
		target := fmt.Sprintf("%s.%d", win, sp.pane)
		if err := c.SplitPane(target, true, sp.percent); err != nil {
			return fmt.Errorf("main window column split at pane %d: %w", sp.pane, err)
		}
	}

	// Halve the three worker columns top/bottom. Reverse order keeps the
	// earlier pane indices stable while later ones shift.
	for _, pane := range []int{3, 2, 1} {
		target := fmt.Sprintf("%s.%d", win, pane)
		if err := c.SplitPane(target, false, 0); err != nil {
			return fmt.Errorf("main window row split at pane %d: %w", pane, err)
		}
	}
	return nil
}

// SplitGridWindow splits an existing single-pane window into a rows x cols
// grid for overflow workers. Columns are cut first and evened out, then each
// column is cut into rows, last column first, so the final pane numbering
// runs column-major from pane 0.
func (c *Client) SplitGridWindow(session string, window, rows, cols int) error {
	if rows < 1 || cols < 1 {
		return fmt.Errorf("grid %dx%d: both dimensions must be positive", rows, cols)
	}
	win := fmt.Sprintf("%s:%d", session, window)

	for i := 0; i < cols-1; i++ {
		if err := c.SplitPane(fmt.Sprintf("%s.%d", win, i), true, 0); err != nil {
			return fmt.Errorf("grid column split %d: %w", i, err)
		}
	}
	if cols > 1 {
		if err := c.SelectLayout(win, "even-horizontal"); err != nil {
			return fmt.Errorf("grid even-horizontal: %w", err)
		}
	}

	for col := cols - 1; col >= 0; col-- {
		for r := 0; r < rows-1; r++ {
			if err := c.SplitPane(fmt.Sprintf("%s.%d", win, col), false, 0); err != nil {
				return fmt.Errorf("grid row split col %d: %w", col, err)
			}
		}
	}
	return nil
}

// WorkerPane resolves a 1-based worker slot to its window and pane indices.
// Slots 1..6 live in the main window; higher slots fill overflow windows in
// blocks of perWindow panes, starting at window 1.
func WorkerPane(slot, perWindow int) (window, pane int) {
	if slot <= MainWindowWorkerPanes {
		return 0, slot
	}
	over := slot - MainWindowWorkerPanes - 1
	return 1 + over/perWindow, over % perWindow
}
