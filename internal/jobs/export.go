package jobs

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"

	"tweetgraph/internal/store"
	"tweetgraph/internal/target"
)

// ExportJob writes one extract as CSV with a header row. With targets the
// extract is limited to the users they resolve to.
type ExportJob struct {
	DB      *store.DB
	Kind    string
	Targets Targets
	Out     io.Writer
}

func (j *ExportJob) Name() string { return "export" }

func (j *ExportJob) Run(ctx context.Context) error {
	if err := checkSchema(ctx, j.DB); err != nil {
		return err
	}
	e, ok := store.LookupExport(j.Kind)
	if !ok {
		return fmt.Errorf("unknown export %q, expected one of %v", j.Kind, store.ExportNames())
	}
	sess := j.DB.NewSession()
	defer sess.Close()

	restrict := len(j.Targets.Targets) > 0
	if restrict {
		users, err := j.Targets.resolve(ctx, sess, nil, target.Skip)
		if err != nil {
			return err
		}
		if err := sess.StageUsers(ctx, users); err != nil {
			return err
		}
	}

	w := csv.NewWriter(j.Out)
	if err := w.Write(e.Columns); err != nil {
		return err
	}
	var rows int
	err := sess.Export(ctx, e, restrict, func(row []string) error {
		rows++
		return w.Write(row)
	})
	if err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write %s export: %w", j.Kind, err)
	}
	jobLog(j.Name()).WithField("kind", j.Kind).WithField("rows", rows).Info("Exported")
	return sess.Rollback()
}
