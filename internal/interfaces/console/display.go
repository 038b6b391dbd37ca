package console

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/stevesarmiento/maximus/internal/application/port"
	"github.com/stevesarmiento/maximus/internal/domain"
)

// ANSI color codes
const (
	ansiReset    = "\033[0m"
	ansiGreen    = "\033[32m"
	ansiYellow   = "\033[33m"
	ansiBold     = "\033[1m"
	ansiDim      = "\033[2m"
	ansiClearEOL = "\033[K"
	ansiCursorUp = "\033[F"
)

// Colorize applies ANSI color to a string
func Colorize(s, color string) string {
	return color + s + ansiReset
}

// QuoteTableConfig controls amount formatting in the live table.
type QuoteTableConfig struct {
	SymbolIn    string
	SymbolOut   string
	DecimalsIn  int
	DecimalsOut int
}

// LiveQuoteDisplay renders streaming quotes as an in-place table and signals
// confirmation when the user presses Enter. Redraws never grow scrollback:
// each update clears the previously drawn lines first.
type LiveQuoteDisplay struct {
	cfg QuoteTableConfig
	out io.Writer

	mu        sync.Mutex
	lastLines int

	decided   chan port.Decision
	closeOnce sync.Once
}

// NewLiveQuoteDisplay writes to out and watches in for an Enter keypress.
func NewLiveQuoteDisplay(cfg QuoteTableConfig, out io.Writer, in io.Reader) *LiveQuoteDisplay {
	if out == nil {
		out = os.Stdout
	}
	d := &LiveQuoteDisplay{
		cfg:     cfg,
		out:     out,
		decided: make(chan port.Decision, 1),
	}
	if in != nil {
		go d.waitForEnter(in)
	}
	return d
}

func (d *LiveQuoteDisplay) waitForEnter(in io.Reader) {
	r := bufio.NewReader(in)
	if _, err := r.ReadString('\n'); err != nil {
		return
	}
	select {
	case d.decided <- port.DecisionConfirm:
	default:
	}
}

func (d *LiveQuoteDisplay) Decided() <-chan port.Decision { return d.decided }

// Update redraws the table in place for the latest snapshot.
func (d *LiveQuoteDisplay) Update(snapshot domain.SwapQuotes, bestProvider string) {
	table := renderTable(d.cfg, snapshot, bestProvider)

	d.mu.Lock()
	defer d.mu.Unlock()

	var sb strings.Builder
	for i := 0; i < d.lastLines; i++ {
		sb.WriteString(ansiCursorUp)
		sb.WriteString(ansiClearEOL)
	}
	sb.WriteString(table)
	fmt.Fprint(d.out, sb.String())
	d.lastLines = strings.Count(table, "\n")
}

// Close clears the table and restores the cursor line.
func (d *LiveQuoteDisplay) Close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		var sb strings.Builder
		for i := 0; i < d.lastLines; i++ {
			sb.WriteString(ansiCursorUp)
			sb.WriteString(ansiClearEOL)
		}
		fmt.Fprint(d.out, sb.String())
		d.lastLines = 0
	})
}

func renderTable(cfg QuoteTableConfig, snapshot domain.SwapQuotes, bestProvider string) string {
	var sb strings.Builder

	if len(snapshot.Quotes) == 0 {
		sb.WriteString(Colorize("waiting for quotes...", ansiYellow))
		sb.WriteString("\n")
		return sb.String()
	}

	sb.WriteString(Colorize("Live Quotes", ansiBold))
	sb.WriteString("\n")
	header := fmt.Sprintf("  %-15s %-20s %12s %12s %10s",
		"Provider", "Route", "In "+cfg.SymbolIn, "Out "+cfg.SymbolOut, "Rate")
	sb.WriteString(Colorize(header, ansiDim))
	sb.WriteString("\n")

	providers := make([]string, 0, len(snapshot.Quotes))
	for p := range snapshot.Quotes {
		providers = append(providers, p)
	}
	mode := snapshot.Request.SwapMode
	sort.Slice(providers, func(i, j int) bool {
		return snapshot.Quotes[providers[i]].Better(snapshot.Quotes[providers[j]], mode)
	})

	for _, p := range providers {
		q := snapshot.Quotes[p]
		prefix := "  "
		color := ansiReset
		if p == bestProvider {
			prefix = "* "
			color = ansiGreen
		}
		line := fmt.Sprintf("%s%-15.15s %-20.20s %12s %12s %10s",
			prefix, p,
			formatRoute(q.RouteSteps),
			formatAmount(q.InAmount, cfg.DecimalsIn),
			formatAmount(q.OutAmount, cfg.DecimalsOut),
			formatRate(q.InAmount, q.OutAmount))
		sb.WriteString(Colorize(line, color))
		sb.WriteString("\n")
	}

	sb.WriteString(Colorize("press Enter to execute the best quote, Ctrl+C to cancel", ansiDim))
	sb.WriteString("\n")
	return sb.String()
}

func formatAmount(amount uint64, decimals int) string {
	v := float64(amount) / math.Pow10(decimals)
	switch {
	case v >= 1000:
		return fmt.Sprintf("%.2f", v)
	case v >= 1:
		return fmt.Sprintf("%.4f", v)
	default:
		return fmt.Sprintf("%.8f", v)
	}
}

func formatRate(inAmount, outAmount uint64) string {
	if inAmount == 0 {
		return "0.0000"
	}
	rate := float64(outAmount) / float64(inAmount)
	switch {
	case rate >= 1000:
		return fmt.Sprintf("%.2f", rate)
	case rate >= 1:
		return fmt.Sprintf("%.4f", rate)
	default:
		return fmt.Sprintf("%.8f", rate)
	}
}

func formatRoute(steps []domain.RouteStep) string {
	if len(steps) == 0 {
		return "Direct"
	}
	venues := make([]string, 0, 3)
	for i, s := range steps {
		if i == 3 {
			break
		}
		label := s.Label
		if fields := strings.Fields(label); len(fields) > 0 {
			label = fields[0]
		}
		venues = append(venues, label)
	}
	route := strings.Join(venues, ">")
	if len(steps) > 3 {
		route += fmt.Sprintf(" +%d", len(steps)-3)
	}
	return route
}

var _ port.QuoteDisplay = (*LiveQuoteDisplay)(nil)
