package conversation

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

const (
	colorSky   = "39"
	colorGreen = "42"
	colorAmber = "214"
	colorRed   = "196"
	colorGray  = "245"
)

const levelBarWidth = 32

var (
	labelStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorSky))
	transcriptStyle = lipgloss.NewStyle()
	replyStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color(colorGreen))
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color(colorRed))
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color(colorGray)).Italic(true)
	noticeStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color(colorAmber))
)

// Console is an Observer that prints the conversation to a terminal.
type Console struct {
	mu         sync.Mutex
	out        io.Writer
	showLevels bool
	threshold  float64
	lastStatus string
}

// NewConsole writes to out. With showLevels set, every level update
// redraws a meter on the current line.
func NewConsole(out io.Writer, showLevels bool, threshold float64) *Console {
	return &Console{out: out, showLevels: showLevels, threshold: threshold}
}

func (c *Console) OnVisualizationLevel(level float64) {
	if !c.showLevels {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "\r%s", LevelBar(level, c.threshold, levelBarWidth))
}

func (c *Console) OnUtteranceStarted(id int) {
	c.println(statusStyle.Render(fmt.Sprintf("recording %s...", label(id))))
}

func (c *Console) OnTranscriptionReady(id int, text string) {
	c.println(labelStyle.Render(label(id)+" you:") + " " + transcriptStyle.Render(text))
}

func (c *Console) OnReplyReady(id int, text, audioURL string) {
	line := labelStyle.Render(label(id)+" bot:") + " " + replyStyle.Render(text)
	if audioURL != "" {
		line += " " + statusStyle.Render("["+audioURL+"]")
	}
	c.println(line)
}

func (c *Console) OnUtteranceError(id int, message string) {
	c.println(labelStyle.Render(label(id)+" error:") + " " + errorStyle.Render(message))
}

// OnRequestsInFlight prints the status line only when it changes.
func (c *Console) OnRequestsInFlight(n int) {
	status := StatusLine(n)

	c.mu.Lock()
	changed := status != c.lastStatus
	c.lastStatus = status
	c.mu.Unlock()

	if changed {
		c.println(statusStyle.Render(status))
	}
}

func (c *Console) OnPlaybackInterrupted() {
	c.println(noticeStyle.Render("playback interrupted, listening..."))
}

func (c *Console) println(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.showLevels {
		// clear the meter line first
		fmt.Fprint(c.out, "\r\033[K")
	}
	fmt.Fprintln(c.out, line)
}

// label names an entry; typed messages carry negative ids.
func label(id int) string {
	if id < 0 {
		return fmt.Sprintf("text #%d", -id)
	}
	return fmt.Sprintf("#%d", id)
}

// StatusLine describes the listening state and pending requests.
func StatusLine(inFlight int) string {
	switch {
	case inFlight <= 0:
		return "Listening..."
	case inFlight == 1:
		return "Listening... (1 request in flight)"
	default:
		return fmt.Sprintf("Listening... (%d requests in flight)", inFlight)
	}
}

// LevelBar renders level on the 0-255 scale as a fixed-width meter;
// cells past the threshold are highlighted.
func LevelBar(level, threshold float64, width int) string {
	if width <= 0 {
		return ""
	}

	if level < 0 {
		level = 0
	}
	if level > 255 {
		level = 255
	}

	filled := int(level / 255 * float64(width))
	mark := int(threshold / 255 * float64(width))

	var quiet, loud strings.Builder
	for i := 0; i < filled; i++ {
		if i < mark {
			quiet.WriteRune('█')
		} else {
			loud.WriteRune('█')
		}
	}

	rest := strings.Repeat("░", width-filled)

	return statusStyle.Render(quiet.String()) + noticeStyle.Render(loud.String()) + statusStyle.Render(rest) +
		fmt.Sprintf(" %3.0f", level)
}
