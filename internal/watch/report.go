package watch

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/wegman-software/changepipe/internal/entity"
	"github.com/wegman-software/changepipe/internal/overlap"
)

// InfoSource supplies changeset metadata for report lines
type InfoSource interface {
	Info(ctx context.Context, id int64, allowRemote bool) entity.Changeset
}

// ReportOptions controls what a Reporter prints
type ReportOptions struct {
	All      bool // also print non-overlapping changesets as "x <id>"
	WithInfo bool // add user and creation time to overlapping lines
}

// Reporter writes one line per decision
type Reporter struct {
	w    io.Writer
	info InfoSource
	opts ReportOptions
}

// NewReporter creates a reporter. info may be nil when WithInfo is off.
func NewReporter(w io.Writer, info InfoSource, opts ReportOptions) *Reporter {
	return &Reporter{w: w, info: info, opts: opts}
}

// Write prints the decisions in order:
//
//	changeset/<id> [<user> <created_at>]
//	x <id>
func (r *Reporter) Write(ctx context.Context, decisions []overlap.Decision) error {
	for _, d := range decisions {
		line, ok := r.line(ctx, d)
		if !ok {
			continue
		}
		if _, err := fmt.Fprintln(r.w, line); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
	}
	return nil
}

func (r *Reporter) line(ctx context.Context, d overlap.Decision) (string, bool) {
	if !d.Overlaps {
		if !r.opts.All {
			return "", false
		}
		return fmt.Sprintf("x %d", d.Changeset), true
	}

	line := fmt.Sprintf("changeset/%d", d.Changeset)
	if r.opts.WithInfo && r.info != nil {
		cs := r.info.Info(ctx, d.Changeset, true)
		line += " " + FormatInfo(cs)
	}
	return line, true
}

// FormatInfo renders a changeset's user and creation time; unknown values
// print as "-"
func FormatInfo(cs entity.Changeset) string {
	user := cs.User
	if user == "" {
		user = "-"
	}
	created := "-"
	if !cs.CreatedAt.IsZero() {
		created = cs.CreatedAt.UTC().Format(time.RFC3339)
	}
	return user + " " + created
}
