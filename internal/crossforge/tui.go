package crossforge

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

type logInfo struct {
	path    string
	content string
}

var (
	tuiApp          *tview.Application
	tuiLogs         []logInfo
	tuiActiveIdx    int
	tuiPrevIdx      int // Track previous index to detect tab switches
	tuiHeaderBox    *tview.TextView
	tuiLogView      *tview.TextView
	tuiFooterBox    *tview.TextView
	tuiFlex         *tview.Flex
	tuiUpdateChan   chan []logInfo
	tuiPrevContent  map[string]string // Track previous content per log path
	tuiShouldScroll bool              // Flag to force scroll to end on next update
)

// runLogCommand opens the TUI viewer over the toolchain build logs.
// Optional positional arguments narrow the view to one package and one
// build phase.
func runLogCommand(args []string, cfg *Config) error {
	if len(args) > 2 {
		return fmt.Errorf("usage: crossforge log [package] [phase]")
	}
	var pkg, phase string
	if len(args) > 0 {
		pkg = args[0]
	}
	if len(args) > 1 {
		phase = args[1]
	}
	logs := &LogSet{Dir: cfg.LogDir, History: cfg.LogHistory}
	if code := runTUI(logs, pkg, phase); code != 0 {
		return fmt.Errorf("log viewer exited with status %d", code)
	}
	return nil
}

func runTUI(logs *LogSet, pkgFilter, phaseFilter string) int {
	// Initialize channels and maps
	tuiUpdateChan = make(chan []logInfo, 10)
	tuiPrevContent = make(map[string]string)
	tuiPrevIdx = -1

	// Create the application
	tuiApp = tview.NewApplication()

	// Create header box with border
	tuiHeaderBox = tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false).
		SetTextAlign(tview.AlignLeft)
	tuiHeaderBox.SetBorder(true)
	tuiHeaderBox.SetTitle("crossforge Build Log Viewer")

	// Create log view (scrollable text view) with border
	// SetDynamicColors(true) enables ANSI color code support
	tuiLogView = tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false).
		SetScrollable(true).
		SetChangedFunc(func() {
			tuiApp.Draw()
		})
	tuiLogView.SetBorder(true)

	// Create footer box with border
	tuiFooterBox = tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(true).
		SetTextAlign(tview.AlignLeft)
	tuiFooterBox.SetBorder(true)

	// Flex layout: header (fixed) + log (flexible) + footer (fixed)
	tuiFlex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(tuiHeaderBox, 3, 0, false).
		AddItem(tuiLogView, 0, 1, true).
		AddItem(tuiFooterBox, 4, 0, false)

	// Set up key handlers
	tuiFlex.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		key := event.Key()
		r := event.Rune()

		switch key {
		case tcell.KeyCtrlQ, tcell.KeyEsc:
			tuiApp.Stop()
			return nil
		case tcell.KeyLeft:
			tuiSwitchPane(-1)
			return nil
		case tcell.KeyRight:
			tuiSwitchPane(1)
			return nil
		case tcell.KeyHome:
			tuiLogView.ScrollToBeginning()
			return nil
		case tcell.KeyEnd:
			tuiLogView.ScrollToEnd()
			return nil
		case tcell.KeyUp:
			row, _ := tuiLogView.GetScrollOffset()
			if row > 0 {
				tuiLogView.ScrollTo(row-1, 0)
			}
			return nil
		case tcell.KeyDown:
			row, _ := tuiLogView.GetScrollOffset()
			tuiLogView.ScrollTo(row+1, 0)
			return nil
		case tcell.KeyPgUp:
			row, _ := tuiLogView.GetScrollOffset()
			if row > 10 {
				tuiLogView.ScrollTo(row-10, 0)
			} else {
				tuiLogView.ScrollToBeginning()
			}
			return nil
		case tcell.KeyPgDn:
			row, _ := tuiLogView.GetScrollOffset()
			tuiLogView.ScrollTo(row+10, 0)
			return nil
		case tcell.KeyRune:
			switch r {
			case 'q':
				tuiApp.Stop()
				return nil
			case 'e':
				if tuiActiveIdx < len(tuiLogs) {
					// Export a compressed copy next to the live log.
					_, _ = logs.Export(tuiLogs[tuiActiveIdx].path)
				}
				return nil
			case 'h':
				tuiSwitchPane(-1)
				return nil
			case 'l':
				tuiSwitchPane(1)
				return nil
			}
		}
		return event
	})

	// Start log update goroutine
	go func() {
		ticker := time.NewTicker(400 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			scanned := readToolchainLogs(logs, pkgFilter, phaseFilter)
			select {
			case tuiUpdateChan <- scanned:
			default:
			}
		}
	}()

	// Start update handler goroutine
	go func() {
		for scanned := range tuiUpdateChan {
			// Track the currently viewed log path to maintain focus
			var currentLogPath string
			if tuiActiveIdx < len(tuiLogs) {
				currentLogPath = tuiLogs[tuiActiveIdx].path
			}

			tuiLogs = scanned

			if currentLogPath != "" {
				found := false
				for i, l := range tuiLogs {
					if l.path == currentLogPath {
						tuiActiveIdx = i
						found = true
						break
					}
				}
				// Only adjust if the log we were viewing disappeared
				if !found && tuiActiveIdx >= len(tuiLogs) && len(tuiLogs) > 0 {
					tuiActiveIdx = len(tuiLogs) - 1
				}
			}

			tuiApp.QueueUpdateDraw(func() {
				updateTUI()
			})
		}
	}()

	// Set root first
	tuiApp.SetRoot(tuiFlex, true).SetFocus(tuiLogView)

	// Initial update - must happen after setting root
	tuiLogs = readToolchainLogs(logs, pkgFilter, phaseFilter)
	if len(tuiLogs) > 0 {
		tuiActiveIdx = 0
	}
	updateTUI()

	if err := tuiApp.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "tui:", err)
		return 1
	}
	return 0
}

func tuiSwitchPane(dir int) {
	if len(tuiLogs) == 0 {
		return
	}
	tuiActiveIdx += dir
	if tuiActiveIdx < 0 {
		tuiActiveIdx = len(tuiLogs) - 1
	}
	if tuiActiveIdx >= len(tuiLogs) {
		tuiActiveIdx = 0
	}
	tuiShouldScroll = true
	updateTUI()
}

func updateTUI() {
	if tuiApp == nil || tuiHeaderBox == nil || tuiLogView == nil || tuiFooterBox == nil {
		return
	}

	// Update header
	var headerText strings.Builder
	if len(tuiLogs) == 0 {
		headerText.WriteString("[gray]No build logs found[white]")
	} else if tuiActiveIdx < len(tuiLogs) {
		l := tuiLogs[tuiActiveIdx]
		titleText := fmt.Sprintf("Build Log %d/%d: %s", tuiActiveIdx+1, len(tuiLogs), l.path)
		headerText.WriteString(fmt.Sprintf("[gray]%s[white]", titleText))
	} else {
		headerText.WriteString("[gray]No active log[white]")
	}
	tuiHeaderBox.SetText(headerText.String())

	// Update log content
	if len(tuiLogs) == 0 {
		tuiLogView.SetText("No build log yet. Run 'crossforge build' to start a build.")
	} else if tuiActiveIdx < len(tuiLogs) {
		l := tuiLogs[tuiActiveIdx]
		prevContent, hadPrevContent := tuiPrevContent[l.path]

		switchedTabs := (tuiPrevIdx != tuiActiveIdx)
		if switchedTabs {
			tuiPrevIdx = tuiActiveIdx
		}

		// Only update if content actually changed or we switched tabs
		if l.content != prevContent || switchedTabs {
			row, _ := tuiLogView.GetScrollOffset()

			// Check if we're at the bottom (only relevant if not switching tabs)
			wasAtBottom := false
			if !switchedTabs && hadPrevContent {
				tuiLogView.ScrollTo(row+1, 0)
				newRow, _ := tuiLogView.GetScrollOffset()
				wasAtBottom = (newRow == row)
				tuiLogView.ScrollTo(row, 0)
			}

			tuiLogView.Clear()
			// ANSIWriter converts ANSI escape sequences to tview color tags
			ansiWriter := tview.ANSIWriter(tuiLogView)
			ansiWriter.Write([]byte(l.content))

			if switchedTabs || tuiShouldScroll {
				tuiLogView.ScrollToEnd()
				tuiShouldScroll = false
			} else if wasAtBottom {
				tuiLogView.ScrollToEnd()
			} else if hadPrevContent {
				prevLines := strings.Count(prevContent, "\n")
				newLines := strings.Count(l.content, "\n")
				if newLines > prevLines {
					// Content grew, keep the same lines on screen
					tuiLogView.ScrollTo(row+newLines-prevLines, 0)
				} else {
					tuiLogView.ScrollTo(row, 0)
				}
			}

			tuiPrevContent[l.path] = l.content
		}
	} else {
		tuiLogView.SetText("")
	}

	// Update footer
	footerSegments := []string{
		"Press 'q' or Ctrl+Q to quit",
		"← → (or h/l) to switch panes",
		"↑ ↓ to scroll",
		"Home/End to jump to start/end",
		"'e' to export a compressed copy",
	}
	tuiFooterBox.SetText(fmt.Sprintf("[gray]%s[white]", strings.Join(footerSegments, " | ")))
}

// readToolchainLogs scans the log directory, newest first, optionally
// narrowed to one package and phase.
func readToolchainLogs(logs *LogSet, pkgFilter, phaseFilter string) []logInfo {
	paths, err := logs.Scan(pkgFilter, phaseFilter)
	if err != nil || len(paths) == 0 {
		return []logInfo{{path: "No logs", content: "No build log yet. Run 'crossforge build' to see logs here."}}
	}

	// Sort by modification time (newest first)
	sort.Slice(paths, func(i, j int) bool {
		ai, err1 := os.Stat(paths[i])
		aj, err2 := os.Stat(paths[j])
		if err1 != nil || err2 != nil {
			return paths[i] > paths[j]
		}
		return ai.ModTime().After(aj.ModTime())
	})

	out := make([]logInfo, 0, len(paths))
	for _, path := range paths {
		content, err := readFullFile(path)
		if err != nil {
			content = fmt.Sprintf("failed to read log: %v", err)
		}
		out = append(out, logInfo{path: path, content: content})
	}
	return out
}

// readFullFile reads the entire file for infinite scrollback support
func readFullFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	b, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
