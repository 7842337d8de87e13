package jobs

import (
	"context"

	"tweetgraph/internal/errs"
	"tweetgraph/internal/store"
	"tweetgraph/internal/target"
)

// CreateTagJob creates a tag; creating an existing tag is a no-op.
type CreateTagJob struct {
	DB  *store.DB
	Tag string
}

func (j *CreateTagJob) Name() string { return "tag_create" }

func (j *CreateTagJob) Run(ctx context.Context) error {
	if err := checkSchema(ctx, j.DB); err != nil {
		return err
	}
	sess := j.DB.NewSession()
	defer sess.Close()
	created, err := sess.CreateTag(ctx, j.Tag)
	if err != nil {
		return err
	}
	if !created {
		jobLog(j.Name()).WithField("tag", j.Tag).Info("Tag already exists")
	}
	return sess.Commit()
}

// DeleteTagJob deletes a tag and removes it from every user.
type DeleteTagJob struct {
	DB  *store.DB
	Tag string
}

func (j *DeleteTagJob) Name() string { return "tag_delete" }

func (j *DeleteTagJob) Run(ctx context.Context) error {
	if err := checkSchema(ctx, j.DB); err != nil {
		return err
	}
	sess := j.DB.NewSession()
	defer sess.Close()
	existed, err := sess.DeleteTag(ctx, j.Tag)
	if err != nil {
		return err
	}
	if !existed {
		return errs.BadTag("tag %q does not exist", j.Tag)
	}
	return sess.Commit()
}

// ApplyTagJob tags every stored target user in one transaction. The tag
// must already exist.
type ApplyTagJob struct {
	DB      *store.DB
	Tag     string
	Targets Targets
}

func (j *ApplyTagJob) Name() string { return "tag_apply" }

func (j *ApplyTagJob) Run(ctx context.Context) error {
	if err := checkSchema(ctx, j.DB); err != nil {
		return err
	}
	sess := j.DB.NewSession()
	defer sess.Close()
	id, err := sess.TagID(ctx, j.Tag)
	if err != nil {
		return err
	}
	if id == 0 {
		return errs.BadTag("tag %q does not exist", j.Tag)
	}
	users, err := j.Targets.resolve(ctx, sess, nil, target.Skip)
	if err != nil {
		return err
	}
	if err := sess.ApplyTag(ctx, id, users); err != nil {
		return err
	}
	jobLog(j.Name()).WithField("tag", j.Tag).WithField("users", len(users)).Info("Applied tag")
	return sess.Commit()
}
