package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/cyradotpink/influencer/internal/obsws"
)

// --- Lipgloss Styling ---
var (
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF5E5E"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#32CD32"))
)

// writeJSON prints v followed by a newline, indented unless compact.
func writeJSON(w io.Writer, v any, compact bool) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if !compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

// parseData reads an optional JSON argument. An empty string means no data.
func parseData(arg string) (json.RawMessage, error) {
	if arg == "" {
		return nil, nil
	}
	if !json.Valid([]byte(arg)) {
		return nil, fmt.Errorf("DATA is not valid JSON: %s", arg)
	}
	return json.RawMessage(arg), nil
}

// parseBatch reads the JSON array of batch requests.
func parseBatch(arg string) ([]obsws.BatchRequest, error) {
	var reqs []obsws.BatchRequest
	if err := json.Unmarshal([]byte(arg), &reqs); err != nil {
		return nil, fmt.Errorf("DATA must be a JSON array of requests: %w", err)
	}
	for i, r := range reqs {
		if r.Type == "" {
			return nil, fmt.Errorf("request %d has no requestType", i)
		}
	}
	return reqs, nil
}

// PrintError renders err for a terminal.
func PrintError(w io.Writer, err error) {
	var re *obsws.RequestError
	switch {
	case errors.As(err, &re):
		fmt.Fprintf(w, "%s %s %s\n",
			errorStyle.Render("rejected"),
			labelStyle.Render(fmt.Sprintf("[%d]", re.Code)),
			re.Comment)
	case errors.Is(err, obsws.ErrAuthenticationFailed):
		fmt.Fprintf(w, "%s %v\n", errorStyle.Render("auth failed"), err)
	default:
		fmt.Fprintf(w, "%s %v\n", errorStyle.Render("error"), err)
	}
}

func printStatus(w io.Writer, label, value string) {
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render(label), successStyle.Render(value))
}
