package agent

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/tabulant/tabulant/pkg/models"
)

func TestNullBucket(t *testing.T) {
	tests := []struct {
		nulls int64
		rows  int64
		want  string
	}{
		{0, 100, "none"},
		{0, 0, "none"},
		{1, 100, "<5%"},
		{4, 100, "<5%"},
		{5, 100, "<25%"},
		{24, 100, "<25%"},
		{25, 100, ">=25%"},
		{100, 100, ">=25%"},
	}
	for _, tt := range tests {
		col := models.ColumnProfile{NullCount: tt.nulls}
		if got := nullBucket(col, tt.rows); got != tt.want {
			t.Errorf("nullBucket(%d/%d) = %q, want %q", tt.nulls, tt.rows, got, tt.want)
		}
	}
}

func TestBuildDataSummaryShape(t *testing.T) {
	profile := &models.Profile{
		Filename:    "people.csv",
		RowCount:    3,
		ColumnCount: 2,
		Columns: []models.ColumnProfile{
			{Name: "id", Type: models.TypeInteger, Samples: []string{"1", "2"}},
			{Name: "name", Type: models.TypeTextual, NullCount: 1, Samples: []string{"ada"}},
		},
	}
	summary := BuildDataSummary(profile)

	for _, want := range []string{
		"Dataset: people.csv",
		"Rows: 3",
		"Columns: 2",
		"- id (integer, nulls: none): e.g. 1, 2",
		"- name (textual, nulls: >=25%): e.g. ada",
	} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}
}

func TestBuildDataSummaryDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("identical profiles produce byte-identical summaries", prop.ForAll(
		func(filename string, rows int64, names []string, nulls int64) bool {
			columns := make([]models.ColumnProfile, len(names))
			for i, name := range names {
				columns[i] = models.ColumnProfile{
					Name:      name,
					Type:      models.TypeTextual,
					NullCount: nulls,
					Samples:   []string{name, name + "-2"},
				}
			}
			profile := &models.Profile{
				Filename:    filename,
				RowCount:    rows,
				ColumnCount: len(columns),
				Columns:     columns,
			}
			clone := &models.Profile{}
			data, err := json.Marshal(profile)
			if err != nil {
				return false
			}
			if err := json.Unmarshal(data, clone); err != nil {
				return false
			}
			return BuildDataSummary(profile) == BuildDataSummary(clone)
		},
		gen.AlphaString(),
		gen.Int64Range(0, 1_000_000),
		gen.SliceOfN(4, gen.Identifier()),
		gen.Int64Range(0, 1000),
	))

	properties.TestingRun(t)
}

func TestBuildSystemPromptSelectsVariant(t *testing.T) {
	profile := &models.Profile{Filename: "f.csv"}

	analyze := BuildSystemPrompt(TriggerAutoAnalyze, profile)
	followUp := BuildSystemPrompt(TriggerMessage, profile)
	if analyze == followUp {
		t.Fatal("prompt variants are identical")
	}
	if !strings.Contains(analyze, "first look") {
		t.Error("auto_analyze prompt missing exploration instructions")
	}
	if !strings.Contains(followUp, "answering a user's question") {
		t.Error("follow-up prompt missing question instructions")
	}
}

func TestBuildMessagesFlattening(t *testing.T) {
	queryPayload, _ := json.Marshal(models.QueryResultData{
		SQL:      "SELECT count(*) FROM data",
		Columns:  []string{"count"},
		Rows:     [][]any{{float64(3)}},
		RowCount: 3,
	})
	history := []*models.Message{
		{ID: 1, Role: models.RoleUser, Kind: models.KindText, Body: "how many rows?"},
		{ID: 2, Role: models.RoleAssistant, Kind: models.KindInternal, Body: "I should count the rows."},
		{ID: 3, Role: models.RoleAssistant, Kind: models.KindQueryResult, Body: "count rows", Payload: queryPayload},
		{ID: 4, Role: models.RoleAssistant, Kind: models.KindText, Body: "There are 3 rows."},
		{ID: 5, Role: models.RoleAssistant, Kind: models.KindPlot, Body: "Row histogram"},
	}

	messages := BuildMessages(history, TriggerMessage, "and columns?", 100000, 0)

	if len(messages) != 5 {
		t.Fatalf("got %d messages, want 5", len(messages))
	}
	if messages[0].Role != "user" || messages[0].Content != "how many rows?" {
		t.Errorf("user message = %+v", messages[0])
	}
	if !strings.HasPrefix(messages[1].Content, "[Internal reasoning]: ") {
		t.Errorf("internal reasoning = %q", messages[1].Content)
	}
	if !strings.Contains(messages[1].Content, "[SQL query: SELECT count(*) FROM data]") ||
		!strings.Contains(messages[1].Content, "[Result: 3 rows returned]") {
		t.Errorf("query result not flattened onto preceding assistant message: %q", messages[1].Content)
	}
	if messages[3].Content != "[Plot output]: Row histogram" {
		t.Errorf("plot flattening = %q", messages[3].Content)
	}
	if last := messages[4]; last.Role != "user" || last.Content != "and columns?" {
		t.Errorf("trigger message = %+v", last)
	}
}

func TestBuildMessagesAutoAnalyzeUsesCanonicalInstruction(t *testing.T) {
	messages := BuildMessages(nil, TriggerAutoAnalyze, "ignored", 100000, 0)
	if len(messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(messages))
	}
	if messages[0].Content != autoAnalyzeInstruction {
		t.Errorf("content = %q, want canonical instruction", messages[0].Content)
	}
}

func TestBuildMessagesTrimsOldestFirst(t *testing.T) {
	long := strings.Repeat("lorem ipsum dolor sit amet ", 200)
	history := []*models.Message{
		{ID: 1, Role: models.RoleUser, Kind: models.KindText, Body: long},
		{ID: 2, Role: models.RoleAssistant, Kind: models.KindText, Body: long},
		{ID: 3, Role: models.RoleUser, Kind: models.KindText, Body: "recent question"},
	}

	messages := BuildMessages(history, TriggerMessage, "latest", 100, 0)

	if len(messages) == 4 {
		t.Fatal("expected trimming, got full history")
	}
	last := messages[len(messages)-1]
	if last.Content != "latest" {
		t.Errorf("trigger message dropped; last = %q", last.Content)
	}
	if len(messages) > 1 && messages[0].Content == long && messages[len(messages)-2].Content != long {
		t.Error("trimmed from the back instead of the front")
	}
}
