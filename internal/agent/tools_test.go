package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/tabulant/tabulant/pkg/models"
)

func call(name, input string) models.ToolCall {
	return models.ToolCall{ID: "tc-1", Name: name, Input: json.RawMessage(input)}
}

func TestDispatchUnknownTool(t *testing.T) {
	f := newFixture(t)

	result, finalized := f.toolbox.Dispatch(context.Background(), call("browse_web", `{}`))
	if finalized {
		t.Error("unknown tool finalized the turn")
	}
	if !result.IsError || !strings.Contains(result.Content, "unknown tool") {
		t.Errorf("result = %+v, want unknown tool error", result)
	}
	if len(f.sink.all()) != 0 {
		t.Errorf("unknown tool emitted %d events", len(f.sink.all()))
	}
}

func TestDispatchSQLQuery(t *testing.T) {
	f := newFixture(t)

	result, finalized := f.toolbox.Dispatch(context.Background(),
		call(ToolSQLQuery, `{"sql": "SELECT name FROM data ORDER BY id", "description": "List names"}`))
	if finalized || result.IsError {
		t.Fatalf("result = %+v, finalized = %v", result, finalized)
	}

	if got := f.sink.count(models.EventQueryResult); got != 1 {
		t.Fatalf("query_result events = %d, want 1", got)
	}
	var echoed struct {
		Columns  []string `json:"columns"`
		RowCount int      `json:"row_count"`
	}
	if err := json.Unmarshal([]byte(result.Content), &echoed); err != nil {
		t.Fatalf("tool result is not JSON: %v", err)
	}
	if echoed.RowCount != 3 || len(echoed.Columns) != 1 {
		t.Errorf("echoed result = %+v", echoed)
	}

	messages, err := f.store.ListMessages(context.Background(), f.session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 1 || messages[0].Kind != models.KindQueryResult {
		t.Errorf("persisted messages = %+v", messages)
	}
}

func TestDispatchSQLQueryErrorSelfCorrects(t *testing.T) {
	f := newFixture(t)

	result, finalized := f.toolbox.Dispatch(context.Background(),
		call(ToolSQLQuery, `{"sql": "DROP TABLE data", "description": "oops"}`))
	if finalized {
		t.Error("failed query finalized the turn")
	}
	if !result.IsError {
		t.Fatalf("result = %+v, want error result", result)
	}

	events := f.sink.all()
	var found bool
	for _, e := range events {
		if e.Event == models.EventQueryResult {
			data := e.Data.(models.QueryResultData)
			if !data.IsError || data.Error == "" {
				t.Errorf("query_result data = %+v, want is_error", data)
			}
			found = true
		}
	}
	if !found {
		t.Error("no query_result event for failed query")
	}
}

func TestDispatchSQLQueryStoppedTurnEmitsNothing(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, finalized := f.toolbox.Dispatch(ctx,
		call(ToolSQLQuery, `{"sql": "SELECT name FROM data", "description": "names"}`))
	if finalized {
		t.Error("cancelled query finalized the turn")
	}
	if !result.IsError {
		t.Fatalf("result = %+v, want error result", result)
	}

	if got := f.sink.count(models.EventQueryResult); got != 0 {
		t.Errorf("query_result events after stop = %d, want 0", got)
	}
	messages, err := f.store.ListMessages(context.Background(), f.session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 0 {
		t.Errorf("messages persisted after stop = %d, want 0", len(messages))
	}
}

func TestDispatchOutputText(t *testing.T) {
	f := newFixture(t)

	result, _ := f.toolbox.Dispatch(context.Background(),
		call(ToolOutputText, `{"markdown": "**3 rows**"}`))
	if result.IsError {
		t.Fatalf("result = %+v", result)
	}
	if got := f.sink.count(models.EventText); got != 1 {
		t.Errorf("text events = %d, want 1", got)
	}
	if !f.toolbox.Emitter.HasVisibleOutput() {
		t.Error("text did not mark visible output")
	}
}

func TestDispatchOutputTableRejectsRaggedRows(t *testing.T) {
	f := newFixture(t)

	result, _ := f.toolbox.Dispatch(context.Background(),
		call(ToolOutputTable, `{"title": "t", "headers": ["a", "b"], "rows": [[1]]}`))
	if !result.IsError {
		t.Fatalf("result = %+v, want error", result)
	}
	if got := f.sink.count(models.EventTable); got != 0 {
		t.Errorf("table events = %d, want 0", got)
	}
}

func TestDispatchCreatePlot(t *testing.T) {
	f := newFixture(t)

	spec := `{"mark": "bar", "data": {"values": [{"x": 1}]}, "encoding": {}}`
	result, _ := f.toolbox.Dispatch(context.Background(),
		call(ToolCreatePlot, `{"title": "Ages", "spec": `+spec+`}`))
	if result.IsError {
		t.Fatalf("result = %+v", result)
	}
	if got := f.sink.count(models.EventPlot); got != 1 {
		t.Errorf("plot events = %d, want 1", got)
	}
}

func TestDispatchCreatePlotRejectsBadSpec(t *testing.T) {
	f := newFixture(t)

	tests := []string{
		`{"title": "t", "spec": {"data": {"values": []}}}`,
		`{"title": "t", "spec": {"mark": "bar"}}`,
		`{"title": "t", "spec": "not an object"}`,
	}
	for _, input := range tests {
		result, _ := f.toolbox.Dispatch(context.Background(), call(ToolCreatePlot, input))
		if !result.IsError {
			t.Errorf("Dispatch(%s) accepted, want error", input)
		}
	}
	if got := f.sink.count(models.EventPlot); got != 0 {
		t.Errorf("plot events = %d, want 0", got)
	}
}

func TestTruncatePlotData(t *testing.T) {
	values := make([]string, 0, 150)
	for i := 0; i < 150; i++ {
		values = append(values, `{"x": 1}`)
	}
	spec := json.RawMessage(`{"mark": "bar", "data": {"values": [` + strings.Join(values, ",") + `]}}`)

	out, err := truncatePlotData(spec, 100)
	if err != nil {
		t.Fatal(err)
	}
	var decoded struct {
		Data struct {
			Values []any `json:"values"`
		} `json:"data"`
	}
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatal(err)
	}
	if len(decoded.Data.Values) != 100 {
		t.Errorf("values after truncation = %d, want 100", len(decoded.Data.Values))
	}
}

func TestDispatchFinalizeSetsTitleOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, finalized := f.toolbox.Dispatch(ctx, call(ToolFinalize, `{"title": "People overview"}`))
	if result.IsError || !finalized {
		t.Fatalf("result = %+v, finalized = %v", result, finalized)
	}
	if got := f.sink.count(models.EventSessionUpdate); got != 1 {
		t.Errorf("session_update events = %d, want 1", got)
	}

	session, err := f.store.GetSession(ctx, f.session.UserID, f.session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if session.Title != "People overview" {
		t.Errorf("title = %q", session.Title)
	}

	// A second finalize must not rename the session.
	_, _ = f.toolbox.Dispatch(ctx, call(ToolFinalize, `{"title": "Renamed"}`))
	session, _ = f.store.GetSession(ctx, f.session.UserID, f.session.ID)
	if session.Title != "People overview" {
		t.Errorf("title after second finalize = %q", session.Title)
	}
}

func TestDispatchFinalizeWithoutTitle(t *testing.T) {
	f := newFixture(t)

	result, finalized := f.toolbox.Dispatch(context.Background(), call(ToolFinalize, `{}`))
	if result.IsError || !finalized {
		t.Fatalf("result = %+v, finalized = %v", result, finalized)
	}
	if got := f.sink.count(models.EventSessionUpdate); got != 0 {
		t.Errorf("session_update events = %d, want 0", got)
	}
}
