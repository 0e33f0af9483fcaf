package agent

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/tabulant/tabulant/internal/observability"
	"github.com/tabulant/tabulant/internal/query"
	"github.com/tabulant/tabulant/internal/store"
	"github.com/tabulant/tabulant/pkg/models"
)

// recordingSink captures every event a turn emits, in order.
type recordingSink struct {
	mu     sync.Mutex
	events []models.Event
}

func (s *recordingSink) Emit(_ context.Context, event models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) all() []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *recordingSink) count(name string) int {
	n := 0
	for _, e := range s.all() {
		if e.Event == name {
			n++
		}
	}
	return n
}

func (s *recordingSink) last() models.Event {
	events := s.all()
	if len(events) == 0 {
		return models.Event{}
	}
	return events[len(events)-1]
}

type fixture struct {
	session *models.Session
	store   *store.SQLiteStore
	db      *sql.DB
	sink    *recordingSink
	toolbox *Toolbox
	profile *models.Profile
}

// newFixture builds a session with a small three-row dataset and a toolbox
// wired to a recording sink.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	session := &models.Session{
		ID:       "sess-1",
		UserID:   "user-1",
		Title:    models.DefaultSessionTitle,
		Filename: "people.csv",
		FilePath: "people.csv",
	}
	if err := st.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open dataset db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec("CREATE TABLE data (id INTEGER, name TEXT, age INTEGER)"); err != nil {
		t.Fatalf("failed to create data table: %v", err)
	}
	rows := [][]any{{1, "ada", 36}, {2, "grace", 45}, {3, "alan", 41}}
	for _, r := range rows {
		if _, err := db.Exec("INSERT INTO data VALUES (?, ?, ?)", r...); err != nil {
			t.Fatalf("failed to insert: %v", err)
		}
	}

	sink := &recordingSink{}
	toolbox := &Toolbox{
		Session:       session,
		DB:            db,
		Store:         st,
		Engine:        query.NewEngine(0),
		Emitter:       NewEmitter(sink),
		Logger:        observability.NewNopLogger(),
		Metrics:       observability.NewMetrics(nil),
		MaxResultRows: 50,
		MaxPlotRows:   100,
	}

	return &fixture{
		session: session,
		store:   st,
		db:      db,
		sink:    sink,
		toolbox: toolbox,
		profile: &models.Profile{
			Filename:    "people.csv",
			RowCount:    3,
			ColumnCount: 3,
			Columns: []models.ColumnProfile{
				{Name: "id", Type: models.TypeInteger, Samples: []string{"1", "2", "3"}},
				{Name: "name", Type: models.TypeTextual, Samples: []string{"ada", "grace", "alan"}},
				{Name: "age", Type: models.TypeInteger, Samples: []string{"36", "45", "41"}},
			},
		},
	}
}
