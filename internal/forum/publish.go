package forum

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	pipeerrs "github.com/sifangyu/weipc/internal/core/errors"
	"github.com/sifangyu/weipc/internal/platform/config"
)

// Article is the minimal shape the Republisher needs from the Article
// Store, so this package doesn't depend on internal/store's full
// lifecycle.
type Article struct {
	Title   string
	Content string
}

const threadInsertSQL = `
INSERT INTO pre_forum_thread (
	tid, fid, author, authorid, subject, dateline, lastpost, lastposter,
	views, replies, displayorder, digest, special, attachment, moderated,
	closed, stickreply, recommends, recommend_add, recommend_sub, heats,
	status, isgroup, favtimes, sharetimes, stamp, icon, pushedaid, cover,
	replycredit, relatebytag, maxposition, bgcolor, comments, hidden
) VALUES (
	?, ?, ?, ?, ?, ?, ?, ?,
	0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, -1, -1, 0, 0,
	0, '', 1, '', 0, 0
)`

const postInsertSQL = `
INSERT INTO pre_forum_post (
	pid, fid, tid, repid, first, author, authorid, subject, dateline,
	lastupdate, updateuid, premsg, message, useip, port, invisible,
	anonymous, usesig, htmlon, bbcodeoff, smileyoff, parseurloff,
	attachment, rate, ratetimes, status, tags, comment, replycredit, position
) VALUES (
	?, ?, ?, 0, 1, ?, ?, ?, ?,
	0, 0, '', ?, '', 0, 0,
	0, 1, 0, 0, 0, 0,
	0, 0, 0, 0, '', 0, 0, 1
)`

const forumCounterUpdateSQL = `
UPDATE pre_forum_forum
SET threads = threads + 1, posts = posts + 1, lastpost = ?
WHERE fid = ?`

const memberCounterUpdateSQL = `
UPDATE pre_common_member_count
SET posts = posts + 1, threads = threads + 1
WHERE uid = ?`

// Publish writes article as a new thread under settings.TargetForumID,
// authored by settings.PublisherUserID/PublisherName, in a single
// transaction: thread row, post row (first=1), forum counters,
// publisher counters. Matches discuz_client.py's publish_article.
func (db *DB) Publish(ctx context.Context, article Article, settings config.ForumSettings) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin publish transaction: %w", pipeerrs.ErrPublish, err)
	}

	if err := publishInTx(ctx, tx, article, settings); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w: %w (rollback also failed: %v)", pipeerrs.ErrPublish, err, rbErr)
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit publish transaction: %w", pipeerrs.ErrPublish, err)
	}

	return nil
}

func publishInTx(ctx context.Context, tx *sqlx.Tx, article Article, settings config.ForumSettings) error {
	nextTID, nextPID, err := nextIDs(ctx, tx)
	if err != nil {
		return err
	}

	now := time.Now().Unix()
	fid := settings.TargetForumID
	author := settings.PublisherName
	authorID := settings.PublisherUserID

	if _, err := tx.ExecContext(ctx, threadInsertSQL,
		nextTID, fid, author, authorID, article.Title, now, now, author,
	); err != nil {
		return fmt.Errorf("%w: insert thread row: %w", pipeerrs.ErrPublish, err)
	}

	if _, err := tx.ExecContext(ctx, postInsertSQL,
		nextPID, fid, nextTID, author, authorID, article.Title, now, article.Content,
	); err != nil {
		return fmt.Errorf("%w: insert post row: %w", pipeerrs.ErrPublish, err)
	}

	lastpost := fmt.Sprintf("%d\t%s\t%d\t%s", nextTID, article.Title, now, author)

	if _, err := tx.ExecContext(ctx, forumCounterUpdateSQL, lastpost, fid); err != nil {
		return fmt.Errorf("%w: update forum counters: %w", pipeerrs.ErrPublish, err)
	}

	if _, err := tx.ExecContext(ctx, memberCounterUpdateSQL, authorID); err != nil {
		return fmt.Errorf("%w: update member counters: %w", pipeerrs.ErrPublish, err)
	}

	return nil
}

// nextIDs allocates the next thread and post id as MAX(column)+1,
// matching get_next_ids. Callers must hold tx for the duration of the
// publish so the allocation and insert are atomic.
func nextIDs(ctx context.Context, tx *sqlx.Tx) (int64, int64, error) {
	var maxTID, maxPID sql.NullInt64

	if err := tx.GetContext(ctx, &maxTID, "SELECT MAX(tid) FROM pre_forum_thread"); err != nil {
		return 0, 0, fmt.Errorf("%w: query max tid: %w", pipeerrs.ErrPublish, err)
	}

	if err := tx.GetContext(ctx, &maxPID, "SELECT MAX(pid) FROM pre_forum_post"); err != nil {
		return 0, 0, fmt.Errorf("%w: query max pid: %w", pipeerrs.ErrPublish, err)
	}

	return maxTID.Int64 + 1, maxPID.Int64 + 1, nil
}
