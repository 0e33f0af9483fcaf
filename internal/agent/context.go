package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/tabulant/tabulant/pkg/models"
)

// Trigger selects the prompt variant for a turn.
type Trigger string

const (
	// TriggerMessage is a user question.
	TriggerMessage Trigger = "message"

	// TriggerAutoAnalyze is the post-upload exploration pass.
	TriggerAutoAnalyze Trigger = "auto_analyze"
)

// autoAnalyzeInstruction is the canonical synthetic user message for an
// auto_analyze turn.
const autoAnalyzeInstruction = "Please explore this dataset and give me an overview of what it contains, " +
	"along with anything interesting you notice."

const promptAnalyze = `You are a data analyst. A user has just uploaded a dataset and you are taking a first look at it on their behalf.

The dataset is loaded into a SQLite database as a single table named data. Use the sql_query tool to inspect it; use SQLite syntax only. Queries are read-only and results are capped, so aggregate rather than selecting everything.

Work step by step:
1. Look at the shape of the data with a few small queries.
2. Summarize what the dataset contains using output_text.
3. If a distribution or trend stands out, show it with output_table or create_plot.
4. Call finalize with a short descriptive title for this session.

Keep the summary short and concrete. Do not speculate beyond what the data shows.`

const promptFollowUp = `You are a data analyst answering a user's question about their dataset.

The dataset is loaded into a SQLite database as a single table named data. Use the sql_query tool with SQLite syntax; queries are read-only and results are capped, so aggregate rather than selecting everything.

Answer with the output_text, output_table, and create_plot tools. Always end your turn with the finalize tool. If the question cannot be answered from the data, say so plainly instead of guessing.`

// BuildSystemPrompt renders the prompt variant for the trigger with the data
// summary embedded.
func BuildSystemPrompt(trigger Trigger, profile *models.Profile) string {
	prompt := promptFollowUp
	if trigger == TriggerAutoAnalyze {
		prompt = promptAnalyze
	}
	return prompt + "\n\n" + BuildDataSummary(profile)
}

// BuildDataSummary renders the profile into the prompt's data block. The
// output is a pure function of the profile: identical profiles produce
// byte-identical summaries.
func BuildDataSummary(profile *models.Profile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dataset: %s\n", profile.Filename)
	fmt.Fprintf(&b, "Rows: %d\n", profile.RowCount)
	fmt.Fprintf(&b, "Columns: %d\n\n", profile.ColumnCount)

	b.WriteString("Schema:\n")
	for _, col := range profile.Columns {
		fmt.Fprintf(&b, "- %s (%s, nulls: %s)", col.Name, col.Type, nullBucket(col, profile.RowCount))
		if len(col.Samples) > 0 {
			fmt.Fprintf(&b, ": e.g. %s", strings.Join(col.Samples, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// nullBucket renders a column's null ratio as one of the coarse buckets
// none, <5%, <25%, >=25%.
func nullBucket(col models.ColumnProfile, rowCount int64) string {
	if col.NullCount == 0 || rowCount == 0 {
		return "none"
	}
	ratio := float64(col.NullCount) / float64(rowCount)
	switch {
	case ratio < 0.05:
		return "<5%"
	case ratio < 0.25:
		return "<25%"
	default:
		return ">=25%"
	}
}

// BuildMessages replays persisted history into model context and appends the
// triggering message. Query results are flattened onto the preceding
// assistant entry; internal reasoning replays verbatim. If the total exceeds
// the token budget, the oldest messages are dropped first (the system prompt
// is budgeted by the caller via systemTokens).
func BuildMessages(history []*models.Message, trigger Trigger, userText string, budget, systemTokens int) []CompletionMessage {
	messages := make([]CompletionMessage, 0, len(history)+1)

	for _, m := range history {
		switch m.Kind {
		case models.KindQueryResult:
			flattened := flattenQueryResult(m)
			if n := len(messages); n > 0 && messages[n-1].Role == string(models.RoleAssistant) {
				messages[n-1].Content += "\n" + flattened
			} else {
				messages = append(messages, CompletionMessage{Role: string(models.RoleAssistant), Content: flattened})
			}
		case models.KindInternal:
			messages = append(messages, CompletionMessage{
				Role:    string(models.RoleAssistant),
				Content: "[Internal reasoning]: " + m.Body,
			})
		case models.KindPlot:
			messages = append(messages, CompletionMessage{
				Role:    string(models.RoleAssistant),
				Content: "[Plot output]: " + m.Body,
			})
		case models.KindTable:
			messages = append(messages, CompletionMessage{
				Role:    string(models.RoleAssistant),
				Content: "[Table output]: " + m.Body,
			})
		default:
			messages = append(messages, CompletionMessage{Role: string(m.Role), Content: m.Body})
		}
	}

	text := userText
	if trigger == TriggerAutoAnalyze {
		text = autoAnalyzeInstruction
	}
	messages = append(messages, CompletionMessage{Role: string(models.RoleUser), Content: text})

	return trimToBudget(messages, budget-systemTokens)
}

// flattenQueryResult renders a persisted query result as the brief textual
// form the model sees on later turns.
func flattenQueryResult(m *models.Message) string {
	var data models.QueryResultData
	if err := json.Unmarshal(m.Payload, &data); err != nil {
		return fmt.Sprintf("[SQL query: %s]\n[Result: unavailable]", m.Body)
	}
	if data.IsError {
		return fmt.Sprintf("[SQL query: %s]\n[Result: error: %s]", data.SQL, data.Error)
	}

	rows := data.Rows
	if len(rows) > llmResultRows {
		rows = rows[:llmResultRows]
	}
	encoded, err := json.Marshal(rows)
	if err != nil {
		encoded = []byte("[]")
	}
	return fmt.Sprintf("[SQL query: %s]\n[Result: %d rows returned]\n%s", data.SQL, data.RowCount, encoded)
}

// trimToBudget drops messages from the front until the total token estimate
// fits. The triggering message (last entry) is always kept.
func trimToBudget(messages []CompletionMessage, budget int) []CompletionMessage {
	if budget <= 0 {
		return messages[len(messages)-1:]
	}
	for len(messages) > 1 {
		total := 0
		for _, m := range messages {
			total += CountTokens(m.Content)
		}
		if total <= budget {
			break
		}
		messages = messages[1:]
	}
	return messages
}

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// CountTokens estimates the token count of text with the cl100k_base
// encoding, falling back to a bytes/4 heuristic if the encoder cannot load
// (it fetches its vocabulary lazily).
func CountTokens(text string) int {
	encodingOnce.Do(func() {
		if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			encoding = enc
		}
	})
	if encoding == nil {
		return (len(text) + 3) / 4
	}
	return len(encoding.Encode(text, nil, nil))
}
