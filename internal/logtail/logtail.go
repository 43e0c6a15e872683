package logtail

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap/zapcore"
)

// Read returns at most maxLines from the end of the file at path. A
// maxLines of zero or less returns every line.
func Read(path string, maxLines int) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if maxLines <= 0 {
		var lines []string
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read log: %w", err)
		}
		return lines, nil
	}

	ring := make([]string, maxLines)
	count := 0
	idx := 0
	for scanner.Scan() {
		ring[idx] = scanner.Text()
		idx = (idx + 1) % maxLines
		if count < maxLines {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}

	lines := make([]string, count)
	if count == maxLines {
		for i := 0; i < count; i++ {
			lines[i] = ring[(idx+i)%maxLines]
		}
	} else {
		copy(lines, ring[:count])
	}
	return lines, nil
}

// Entry is one decoded JSON log line.
type Entry struct {
	Time   string
	Level  zapcore.Level
	Msg    string
	Fields map[string]any
}

// Parse decodes a line written by the application logger. ok is false for
// lines that are not JSON objects.
func Parse(line string) (Entry, bool) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Entry{}, false
	}
	e := Entry{Fields: make(map[string]any)}
	for k, v := range raw {
		switch k {
		case "ts":
			e.Time, _ = v.(string)
		case "level":
			s, _ := v.(string)
			if err := e.Level.UnmarshalText([]byte(s)); err != nil {
				e.Level = zapcore.InfoLevel
			}
		case "msg":
			e.Msg, _ = v.(string)
		case "caller", "stacktrace":
		default:
			e.Fields[k] = v
		}
	}
	return e, true
}

var (
	timeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#808080"))
	msgStyle   = lipgloss.NewStyle().Bold(true)
	keyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#87AFFF"))
	levelStyle = map[zapcore.Level]lipgloss.Style{
		zapcore.DebugLevel: lipgloss.NewStyle().Foreground(lipgloss.Color("#87CEEB")).Bold(true),
		zapcore.InfoLevel:  lipgloss.NewStyle().Foreground(lipgloss.Color("#5FD75F")).Bold(true),
		zapcore.WarnLevel:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD700")).Bold(true),
		zapcore.ErrorLevel: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true),
	}
)

// Format renders a log line as "time LEVEL msg key=value ...", with fields
// sorted by key. Non-JSON lines are returned unchanged. color enables ANSI
// styling.
func Format(line string, color bool) string {
	e, ok := Parse(line)
	if !ok {
		return line
	}

	render := func(s lipgloss.Style, text string) string {
		if !color {
			return text
		}
		return s.Render(text)
	}

	lvl, found := levelStyle[e.Level]
	if !found {
		lvl = levelStyle[zapcore.ErrorLevel]
	}

	var b strings.Builder
	if e.Time != "" {
		b.WriteString(render(timeStyle, e.Time))
		b.WriteString(" ")
	}
	b.WriteString(render(lvl, fmt.Sprintf("%-5s", e.Level.CapitalString())))
	b.WriteString(" ")
	b.WriteString(render(msgStyle, e.Msg))

	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(" ")
		b.WriteString(render(keyStyle, k+"="))
		b.WriteString(formatValue(e.Fields[k]))
	}
	return b.String()
}

// FormatLines formats each line, dropping entries below min.
func FormatLines(lines []string, min zapcore.Level, color bool) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if e, ok := Parse(line); ok && e.Level < min {
			continue
		}
		out = append(out, Format(line, color))
	}
	return out
}

func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		if strings.ContainsAny(t, " \t\"=") {
			return fmt.Sprintf("%q", t)
		}
		return t
	case float64:
		return fmt.Sprintf("%g", t)
	case nil:
		return "null"
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
