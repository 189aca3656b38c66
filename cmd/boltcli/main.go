package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/neobolt/driver/auth"
	"github.com/neobolt/driver/highlight"
	"github.com/neobolt/driver/neobolt"
	"github.com/neobolt/driver/result"
	"github.com/neobolt/driver/session"
)

var version = "dev"

func main() {
	fs := flag.NewFlagSet("boltcli", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "boltcli — interactive Cypher shell for a Bolt-speaking database\n\nUsage:\n  boltcli [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}

	address := fs.String("address", "localhost:7687", "Bolt server address")
	username := fs.String("username", "neo4j", "auth username")
	password := fs.String("password", "", "auth password")
	database := fs.String("database", "", "database name (empty selects the server default)")
	maxPoolSize := fs.Int("max-pool-size", 10, "connection pool maximum size")
	connectTimeout := fs.Duration("connect-timeout", 5*time.Second, "dial+handshake+auth timeout")
	showVersion := fs.Bool("version", false, "show version and exit")

	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("boltcli %s\n", version)
		return
	}

	if err := run(*address, *username, *password, *database, *maxPoolSize, *connectTimeout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(address, username, password, database string, maxPoolSize int, connectTimeout time.Duration) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	driver, err := neobolt.New(neobolt.Config{
		Address:        address,
		Auth:           auth.Basic(username, password, ""),
		MaxPoolSize:    maxPoolSize,
		ConnectTimeout: connectTimeout,
		AcquireTimeout: connectTimeout,
	})
	if err != nil {
		return fmt.Errorf("boltcli: open: %w", err)
	}
	defer func() { _ = driver.Close() }()

	if err := driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("boltcli: connect: %w", err)
	}
	fmt.Printf("connected to %s\n", address)

	sess := driver.NewSession(session.Config{Database: database})
	defer func() { _ = sess.Close(ctx) }()

	return repl(ctx, sess)
}

func repl(ctx context.Context, sess *neobolt.Session) error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("cypher> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Print("cypher> ")
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}

		fmt.Println(highlight.Cypher(line))

		res, err := sess.Run(ctx, line, nil)
		if err != nil {
			fmt.Fprintln(os.Stderr, friendlyError(err))
			fmt.Print("cypher> ")
			continue
		}

		recs, err := res.Collect(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, friendlyError(err))
			fmt.Print("cypher> ")
			continue
		}
		fmt.Print(renderTable(res.Keys(), recs))

		select {
		case <-ctx.Done():
			return nil
		default:
		}
		fmt.Print("cypher> ")
	}
	return scanner.Err()
}

func friendlyError(err error) string {
	msg := err.Error()
	if strings.Contains(msg, "connection refused") {
		return "Could not reach the database. Error: " + msg
	}
	return "Error: " + msg
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// renderTable renders records as a bordered, column-aligned table, padding
// every cell to its column's widest value; wide values are not truncated.
func renderTable(keys []string, recs []result.Record) string {
	if len(keys) == 0 {
		return "(no columns)\n"
	}

	widths := make([]int, len(keys))
	for i, k := range keys {
		widths[i] = lipgloss.Width(k)
	}
	rows := make([][]string, len(recs))
	for i, rec := range recs {
		row := make([]string, len(keys))
		for j := range keys {
			cell := fmt.Sprintf("%v", rec.Values[j])
			row[j] = cell
			if w := lipgloss.Width(cell); w > widths[j] {
				widths[j] = w
			}
		}
		rows[i] = row
	}

	var b strings.Builder
	writeRow := func(cells []string, style lipgloss.Style) {
		parts := make([]string, len(cells))
		for i, c := range cells {
			parts[i] = style.Render(padRight(c, widths[i]))
		}
		b.WriteString(strings.Join(parts, borderStyle.Render(" | ")))
		b.WriteString("\n")
	}

	writeRow(keys, headerStyle)
	b.WriteString(borderStyle.Render(strings.Repeat("-", totalWidth(widths)+3*(len(widths)-1))) + "\n")
	for _, row := range rows {
		writeRow(row, lipgloss.NewStyle())
	}
	return b.String()
}

func padRight(s string, width int) string {
	w := lipgloss.Width(s)
	if w >= width {
		return s
	}
	return s + strings.Repeat(" ", width-w)
}

func totalWidth(widths []int) int {
	total := 0
	for _, w := range widths {
		total += w
	}
	return total
}
