// Package crashlog persists recovered panics and unexpected errors to the
// error_logs table so they survive the process.
package crashlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/neboloop/bingus/internal/logging"
)

// Record is one stored error_logs row.
type Record struct {
	ID         int64
	Level      string
	Module     string
	Message    string
	Stacktrace string
	Context    map[string]string
	CreatedAt  time.Time
}

// Logger persists errors and panics to the error_logs table.
// Safe for concurrent use from multiple goroutines.
type Logger struct {
	db  *sql.DB
	now func() time.Time
}

var (
	global   *Logger
	globalMu sync.Mutex
)

// New returns a Logger writing to db.
func New(db *sql.DB) *Logger {
	return &Logger{db: db, now: time.Now}
}

// Init sets up the global crash logger. Passing nil detaches it.
func Init(sqlDB *sql.DB) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if sqlDB == nil {
		global = nil
		return
	}
	global = New(sqlDB)
}

func current() *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	return global
}

// LogPanic records a recovered panic with the current stack.
// Safe to call even if Init was never called; it then only logs.
func LogPanic(module string, r any, ctx map[string]string) {
	msg := fmt.Sprintf("%v", r)
	stack := string(debug.Stack())
	logging.Errorf("[%s] panic: %s\n%s", module, msg, stack)
	if l := current(); l != nil {
		l.insert("panic", module, msg, stack, ctx)
	}
}

// LogError records an error with optional context.
func LogError(module string, err error, ctx map[string]string) {
	if err == nil {
		return
	}
	logging.Errorf("[%s] %v", module, err)
	if l := current(); l != nil {
		l.insert("error", module, err.Error(), "", ctx)
	}
}

func (l *Logger) insert(level, module, message, stacktrace string, ctx map[string]string) {
	var ctxJSON sql.NullString
	if len(ctx) > 0 {
		if b, err := json.Marshal(ctx); err == nil {
			ctxJSON = sql.NullString{String: string(b), Valid: true}
		}
	}
	stackNull := sql.NullString{String: stacktrace, Valid: stacktrace != ""}

	_, err := l.db.ExecContext(context.Background(),
		`INSERT INTO error_logs (level, module, message, stacktrace, context, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		level, module, message, stackNull, ctxJSON, l.now().UnixMilli())
	if err != nil {
		logging.Warnf("[crashlog] could not persist %s: %v", level, err)
	}
}

// Recent returns up to limit records, newest first.
func (l *Logger) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, level, module, message, stacktrace, context, created_at FROM error_logs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query error_logs: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r       Record
			stack   sql.NullString
			ctxJSON sql.NullString
			ms      int64
		)
		if err := rows.Scan(&r.ID, &r.Level, &r.Module, &r.Message, &stack, &ctxJSON, &ms); err != nil {
			return nil, fmt.Errorf("scan error_logs: %w", err)
		}
		r.Stacktrace = stack.String
		r.CreatedAt = time.UnixMilli(ms)
		if ctxJSON.Valid {
			_ = json.Unmarshal([]byte(ctxJSON.String), &r.Context)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
