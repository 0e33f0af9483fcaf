package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tabulant/tabulant/internal/observability"
	"github.com/tabulant/tabulant/internal/query"
	"github.com/tabulant/tabulant/internal/store"
	"github.com/tabulant/tabulant/pkg/models"
)

// llmResultRows bounds how many result rows are echoed back into the model
// context per query; the full capped result still reaches the client.
const llmResultRows = 20

// plotSpecSchema accepts any Vega-Lite-shaped object: the mark discriminator
// plus a data block. Everything else is opaque to the server.
var plotSpecSchema = jsonschema.MustCompileString("plot-spec.json", `{
	"type": "object",
	"properties": {
		"mark": {},
		"data": {"type": "object"}
	},
	"required": ["mark", "data"]
}`)

// Toolbox executes tool calls for one turn. It owns no goroutines; the loop
// calls Dispatch sequentially.
type Toolbox struct {
	Session *models.Session
	DB      *sql.DB
	Store   store.Store
	Engine  *query.Engine
	Emitter *Emitter
	Logger  *observability.Logger
	Metrics *observability.Metrics

	MaxResultRows int
	MaxPlotRows   int
}

// Dispatch runs one tool call and returns the result to feed back into the
// model context. finalized reports that the turn should end.
func (t *Toolbox) Dispatch(ctx context.Context, call models.ToolCall) (result models.ToolResult, finalized bool) {
	result.ToolCallID = call.ID

	if !knownTool(call.Name) {
		t.Metrics.ToolCalls.WithLabelValues(call.Name, "error").Inc()
		result.IsError = true
		result.Content = fmt.Sprintf("unknown tool %q", call.Name)
		return result, false
	}

	var err error
	switch call.Name {
	case ToolSQLQuery:
		result.Content, err = t.runQuery(ctx, call.Input)
	case ToolOutputText:
		result.Content, err = t.outputText(ctx, call.Input)
	case ToolOutputTable:
		result.Content, err = t.outputTable(ctx, call.Input)
	case ToolCreatePlot:
		result.Content, err = t.createPlot(ctx, call.Input)
	case ToolFinalize:
		result.Content, err = t.finalize(ctx, call.Input)
		finalized = err == nil
	}

	status := "ok"
	if err != nil {
		status = "error"
		result.IsError = true
		result.Content = err.Error()
	}
	t.Metrics.ToolCalls.WithLabelValues(call.Name, status).Inc()
	return result, finalized
}

func (t *Toolbox) runQuery(ctx context.Context, input json.RawMessage) (string, error) {
	var args sqlQueryArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return "", fmt.Errorf("invalid sql_query arguments: %w", err)
	}
	if strings.TrimSpace(args.SQL) == "" {
		return "", errors.New("sql_query requires a non-empty sql argument")
	}

	if args.Description != "" {
		t.Emitter.Status(ctx, args.Description)
	} else {
		t.Emitter.Status(ctx, "Running query...")
	}

	started := time.Now()
	res, err := t.Engine.Execute(ctx, t.DB, args.SQL, t.MaxResultRows)
	t.Metrics.QueryDuration.Observe(time.Since(started).Seconds())

	// A stopped turn persists and emits nothing further; the loop observes
	// the cancellation and ends the turn.
	if cerr := ctx.Err(); cerr != nil {
		return "", cerr
	}

	data := models.QueryResultData{
		Description: args.Description,
		SQL:         args.SQL,
	}
	if err != nil {
		data.IsError = true
		data.Error = err.Error()
		data.Columns = []string{}
		data.Rows = [][]any{}
	} else {
		data.Columns = res.Columns
		data.Rows = res.Rows
		data.RowCount = int64(res.RowCount)
	}

	if perr := t.persist(ctx, models.KindQueryResult, args.Description, data); perr != nil {
		return "", perr
	}
	if eerr := t.Emitter.Emit(ctx, models.Event{Event: models.EventQueryResult, Data: data}); eerr != nil {
		return "", eerr
	}

	if err != nil {
		// The failure goes back to the model as an error result so it can
		// correct itself; the turn keeps going.
		return "", fmt.Errorf("query failed: %s", err.Error())
	}

	echo := struct {
		Columns   []string `json:"columns"`
		Rows      [][]any  `json:"rows"`
		RowCount  int      `json:"row_count"`
		Truncated bool     `json:"truncated"`
	}{
		Columns:   res.Columns,
		Rows:      res.Rows,
		RowCount:  res.RowCount,
		Truncated: res.Truncated,
	}
	if len(echo.Rows) > llmResultRows {
		echo.Rows = echo.Rows[:llmResultRows]
	}
	encoded, err := json.Marshal(echo)
	if err != nil {
		return "", fmt.Errorf("failed to encode query result: %w", err)
	}
	return string(encoded), nil
}

func (t *Toolbox) outputText(ctx context.Context, input json.RawMessage) (string, error) {
	var args outputTextArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return "", fmt.Errorf("invalid output_text arguments: %w", err)
	}
	if strings.TrimSpace(args.Markdown) == "" {
		return "", errors.New("output_text requires non-empty markdown")
	}

	if err := t.persistBody(ctx, models.KindText, args.Markdown); err != nil {
		return "", err
	}
	if err := t.Emitter.Emit(ctx, models.TextEvent(args.Markdown)); err != nil {
		return "", err
	}
	return "Text sent to the user.", nil
}

func (t *Toolbox) outputTable(ctx context.Context, input json.RawMessage) (string, error) {
	var args outputTableArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return "", fmt.Errorf("invalid output_table arguments: %w", err)
	}
	if len(args.Headers) == 0 {
		return "", errors.New("output_table requires at least one header")
	}
	for i, row := range args.Rows {
		if len(row) != len(args.Headers) {
			return "", fmt.Errorf("row %d has %d cells, expected %d", i, len(row), len(args.Headers))
		}
	}

	data := models.TableData{Title: args.Title, Headers: args.Headers, Rows: args.Rows}
	if err := t.persist(ctx, models.KindTable, args.Title, data); err != nil {
		return "", err
	}
	if err := t.Emitter.Emit(ctx, models.Event{Event: models.EventTable, Data: data}); err != nil {
		return "", err
	}
	return "Table sent to the user.", nil
}

func (t *Toolbox) createPlot(ctx context.Context, input json.RawMessage) (string, error) {
	var args createPlotArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return "", fmt.Errorf("invalid create_plot arguments: %w", err)
	}
	if len(args.Spec) == 0 {
		return "", errors.New("create_plot requires a spec object")
	}

	var decoded any
	if err := json.Unmarshal(args.Spec, &decoded); err != nil {
		return "", fmt.Errorf("chart spec is not valid JSON: %w", err)
	}
	if err := plotSpecSchema.Validate(decoded); err != nil {
		return "", fmt.Errorf("chart spec rejected: %v", err)
	}

	spec, err := truncatePlotData(args.Spec, t.MaxPlotRows)
	if err != nil {
		return "", err
	}

	data := models.PlotData{Title: args.Title, Spec: spec}
	if err := t.persist(ctx, models.KindPlot, args.Title, data); err != nil {
		return "", err
	}
	if err := t.Emitter.Emit(ctx, models.Event{Event: models.EventPlot, Data: data}); err != nil {
		return "", err
	}
	return "Plot sent to the user.", nil
}

func (t *Toolbox) finalize(ctx context.Context, input json.RawMessage) (string, error) {
	var args finalizeArgs
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("invalid finalize arguments: %w", err)
		}
	}

	if args.Title != nil {
		title := strings.TrimSpace(*args.Title)
		if title != "" && (t.Session.Title == "" || t.Session.Title == models.DefaultSessionTitle) {
			if err := t.Store.SetTitle(ctx, t.Session.ID, title); err != nil {
				t.Logger.Warn(ctx, "failed to set session title", "error", err)
			} else {
				t.Session.Title = title
				if err := t.Emitter.Emit(ctx, models.Event{
					Event: models.EventSessionUpdate,
					Data:  models.SessionUpdateData{Title: title},
				}); err != nil {
					return "", err
				}
			}
		}
	}
	return "Turn finalized.", nil
}

// truncatePlotData caps inline data.values at maxRows so a plot never smuggles
// an unbounded result set to the client.
func truncatePlotData(spec json.RawMessage, maxRows int) (json.RawMessage, error) {
	var decoded map[string]any
	if err := json.Unmarshal(spec, &decoded); err != nil {
		return nil, fmt.Errorf("chart spec is not an object: %w", err)
	}
	data, ok := decoded["data"].(map[string]any)
	if !ok {
		return spec, nil
	}
	values, ok := data["values"].([]any)
	if !ok || len(values) <= maxRows {
		return spec, nil
	}
	data["values"] = values[:maxRows]

	out, err := json.Marshal(decoded)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode chart spec: %w", err)
	}
	return out, nil
}

func (t *Toolbox) persistBody(ctx context.Context, kind models.MessageKind, body string) error {
	_, err := t.Store.AppendMessage(ctx, &models.Message{
		SessionID: t.Session.ID,
		Role:      models.RoleAssistant,
		Kind:      kind,
		Body:      body,
	})
	if err != nil {
		return fmt.Errorf("failed to persist %s message: %w", kind, err)
	}
	return nil
}

func (t *Toolbox) persist(ctx context.Context, kind models.MessageKind, body string, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}
	_, err = t.Store.AppendMessage(ctx, &models.Message{
		SessionID: t.Session.ID,
		Role:      models.RoleAssistant,
		Kind:      kind,
		Body:      body,
		Payload:   encoded,
	})
	if err != nil {
		return fmt.Errorf("failed to persist %s message: %w", kind, err)
	}
	return nil
}
