package agent

import "encoding/json"

// Tool names. The set is closed: anything else coming back from the model is
// answered with an error result so it can correct itself.
const (
	ToolSQLQuery    = "sql_query"
	ToolOutputText  = "output_text"
	ToolOutputTable = "output_table"
	ToolCreatePlot  = "create_plot"
	ToolFinalize    = "finalize"
)

type sqlQueryArgs struct {
	SQL         string `json:"sql"`
	Description string `json:"description"`
}

type outputTextArgs struct {
	Markdown string `json:"markdown"`
}

type outputTableArgs struct {
	Title   string   `json:"title"`
	Headers []string `json:"headers"`
	Rows    [][]any  `json:"rows"`
}

type createPlotArgs struct {
	Title string          `json:"title"`
	Spec  json.RawMessage `json:"spec"`
}

type finalizeArgs struct {
	Title *string `json:"title,omitempty"`
}

const sqlQuerySchema = `{
	"type": "object",
	"properties": {
		"sql": {
			"type": "string",
			"description": "A single read-only SELECT or WITH statement over the table named data."
		},
		"description": {
			"type": "string",
			"description": "A short human-readable description of what the query computes."
		}
	},
	"required": ["sql", "description"]
}`

const outputTextSchema = `{
	"type": "object",
	"properties": {
		"markdown": {
			"type": "string",
			"description": "Markdown text shown to the user."
		}
	},
	"required": ["markdown"]
}`

const outputTableSchema = `{
	"type": "object",
	"properties": {
		"title": {"type": "string"},
		"headers": {
			"type": "array",
			"items": {"type": "string"}
		},
		"rows": {
			"type": "array",
			"items": {"type": "array"}
		}
	},
	"required": ["title", "headers", "rows"]
}`

const createPlotSchema = `{
	"type": "object",
	"properties": {
		"title": {"type": "string"},
		"spec": {
			"type": "object",
			"description": "A Vega-Lite chart specification with inline data."
		}
	},
	"required": ["title", "spec"]
}`

const finalizeSchema = `{
	"type": "object",
	"properties": {
		"title": {
			"type": "string",
			"description": "Optional short session title, set once on the first turn."
		}
	}
}`

// toolSpecs is the fixed tool surface offered to the model on every request.
var toolSpecs = []ToolSpec{
	{
		Name:        ToolSQLQuery,
		Description: "Run a read-only SQL query against the uploaded dataset. The dataset is a single table named data.",
		InputSchema: json.RawMessage(sqlQuerySchema),
	},
	{
		Name:        ToolOutputText,
		Description: "Send markdown text to the user. Use this for explanations and summaries.",
		InputSchema: json.RawMessage(outputTextSchema),
	},
	{
		Name:        ToolOutputTable,
		Description: "Send a formatted table to the user.",
		InputSchema: json.RawMessage(outputTableSchema),
	},
	{
		Name:        ToolCreatePlot,
		Description: "Send a chart to the user as a Vega-Lite specification with inline data values.",
		InputSchema: json.RawMessage(createPlotSchema),
	},
	{
		Name:        ToolFinalize,
		Description: "End your turn. Optionally set a session title on the first turn.",
		InputSchema: json.RawMessage(finalizeSchema),
	},
}

// Tools returns the tool specs offered to the model.
func Tools() []ToolSpec {
	return toolSpecs
}

// knownTool reports whether name belongs to the closed registry.
func knownTool(name string) bool {
	switch name {
	case ToolSQLQuery, ToolOutputText, ToolOutputTable, ToolCreatePlot, ToolFinalize:
		return true
	}
	return false
}
