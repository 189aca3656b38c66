// Package highlight applies ANSI terminal styling to Cypher text and to the
// PROFILE/EXPLAIN plan summaries a query's result can carry, for boltcli's
// interactive output.
package highlight

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/lipgloss"
)

// cypherLexer is a small hand-rolled chroma lexer: Cypher has no built-in
// chroma grammar, so we cover the clauses and literal forms boltcli users
// actually type rather than the whole openCypher grammar.
var cypherLexer = chroma.MustNewLexer(
	&chroma.Config{
		Name:            "Cypher",
		Aliases:         []string{"cypher"},
		Filenames:       []string{"*.cyp", "*.cypher"},
		MimeTypes:       []string{"text/x-cypher"},
		CaseInsensitive: true,
	},
	chroma.Rules{
		"root": {
			{Pattern: `\s+`, Type: chroma.Whitespace},
			{Pattern: `//.*`, Type: chroma.CommentSingle},
			{Pattern: `\b(MATCH|OPTIONAL MATCH|WHERE|RETURN|CREATE|MERGE|DELETE|DETACH DELETE|SET|REMOVE|WITH|UNWIND|ORDER BY|SKIP|LIMIT|AS|CALL|YIELD|UNION ALL|UNION|FOREACH|CASE|WHEN|THEN|ELSE|END|DISTINCT)\b`, Type: chroma.Keyword},
			{Pattern: `\b(AND|OR|NOT|XOR|IN|IS NULL|IS NOT NULL|IS|STARTS WITH|ENDS WITH|CONTAINS)\b`, Type: chroma.OperatorWord},
			{Pattern: `\b(true|false|null)\b`, Type: chroma.KeywordConstant},
			{Pattern: `:[A-Za-z_][A-Za-z0-9_]*`, Type: chroma.NameClass},
			{Pattern: `\$[A-Za-z_][A-Za-z0-9_]*`, Type: chroma.NameVariable},
			{Pattern: `"(\\.|[^"\\])*"`, Type: chroma.LiteralString},
			{Pattern: `'(\\.|[^'\\])*'`, Type: chroma.LiteralString},
			{Pattern: `[0-9]+\.[0-9]+`, Type: chroma.LiteralNumberFloat},
			{Pattern: `[0-9]+`, Type: chroma.LiteralNumberInteger},
			{Pattern: `[{}()\[\],.;|]`, Type: chroma.Punctuation},
			{Pattern: `-->|<--|--|[-<>=!]+`, Type: chroma.Operator},
			{Pattern: `[A-Za-z_][A-Za-z0-9_]*`, Type: chroma.Name},
		},
	},
)

var (
	lexer     chroma.Lexer
	formatter chroma.Formatter
	style     *chroma.Style
)

func init() {
	lexer = lexers.Register(cypherLexer)
	formatter = formatters.Get("terminal256")
	style = styles.Get("monokai")
}

// Cypher returns s with ANSI terminal syntax highlighting applied. On error
// or empty input, s is returned unchanged.
func Cypher(s string) string {
	if s == "" {
		return s
	}

	iterator, err := lexer.Tokenise(nil, s)
	if err != nil {
		return s
	}

	var buf bytes.Buffer
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return s
	}

	return strings.TrimRight(buf.String(), "\n")
}

var (
	planOperatorRe = regexp.MustCompile(
		`(?i)\b(NodeByLabelScan|AllNodesScan|NodeIndexSeek|NodeUniqueIndexSeek|` +
			`Expand\(All\)|Expand\(Into\)|VarLengthExpand|Filter|Projection|` +
			`Aggregation|Sort|Top|Limit|Skip|Distinct|CartesianProduct|` +
			`NodeHashJoin|ValueHashJoin|Apply|AntiSemiApply|SemiApply|` +
			`ProduceResults|Create|SetProperty|Delete|Merge)\b`,
	)
	planMetricsRe = regexp.MustCompile(`\((?:db hits|rows|estimated rows|memory)[^)]*\)`)
	planArrowRe   = regexp.MustCompile(`\+--|\\--|->|<-`)
	planSummaryRe = regexp.MustCompile(`(?i)^\s*(Total database accesses|Compiler|Planner|Runtime):`)

	boldStyle = lipgloss.NewStyle().Bold(true)
	dimStyle  = lipgloss.NewStyle().Faint(true)
)

// Plan returns a PROFILE/EXPLAIN plan rendering with ANSI highlighting
// applied: operator names bold, db-hit/row counters dim, tree connectors
// dim, and summary lines bold.
func Plan(s string) string {
	if s == "" {
		return s
	}

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if planSummaryRe.MatchString(line) {
			lines[i] = boldStyle.Render(line)
			continue
		}

		line = planArrowRe.ReplaceAllStringFunc(line, func(m string) string {
			return dimStyle.Render(m)
		})
		line = planMetricsRe.ReplaceAllStringFunc(line, func(m string) string {
			return dimStyle.Render(m)
		})
		line = planOperatorRe.ReplaceAllStringFunc(line, func(m string) string {
			return boldStyle.Render(m)
		})
		lines[i] = line
	}

	return strings.Join(lines, "\n")
}
