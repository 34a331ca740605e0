package db

import (
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/hpungsan/robolabel/internal/errors"
)

// ErrNotRunning is returned when an analysis update finds the row already
// completed or failed, e.g. reclaimed by MarkInterrupted.
var ErrNotRunning = stderrors.New("analysis is not running")

// UpsertVideo records a stored video, replacing size, source and location of
// an existing row while keeping its created_at. Each save under an existing
// name bumps the revision; v.Revision is set to the stored value.
func UpsertVideo(db *sql.DB, v *Video) error {
	now := time.Now().Unix()
	if v.CreatedAt == 0 {
		v.CreatedAt = now
	}
	v.UpdatedAt = now

	query := `
		INSERT INTO videos (name, size_bytes, source, source_url, location, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			size_bytes = excluded.size_bytes,
			source = excluded.source,
			source_url = excluded.source_url,
			location = excluded.location,
			revision = videos.revision + 1,
			updated_at = excluded.updated_at
		RETURNING revision
	`
	err := db.QueryRow(query,
		v.Name, v.SizeBytes, v.Source, toNullString(v.SourceURL), v.Location, v.CreatedAt, v.UpdatedAt,
	).Scan(&v.Revision)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetVideo retrieves a registry row by file name.
func GetVideo(db *sql.DB, name string) (*Video, error) {
	query := `
		SELECT name, size_bytes, source, source_url, location, revision, created_at, updated_at
		FROM videos
		WHERE name = ?
	`
	var (
		v         Video
		sourceURL sql.NullString
	)
	err := db.QueryRow(query, name).Scan(
		&v.Name, &v.SizeBytes, &v.Source, &sourceURL, &v.Location, &v.Revision, &v.CreatedAt, &v.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("video", name)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	v.SourceURL = fromNullString(sourceURL)
	return &v, nil
}

// InsertAnalysis stores a new analysis row.
func InsertAnalysis(db *sql.DB, a *Analysis) error {
	now := time.Now().Unix()
	if a.CreatedAt == 0 {
		a.CreatedAt = now
	}
	if a.UpdatedAt == 0 {
		a.UpdatedAt = now
	}

	query := `
		INSERT INTO analyses (
			id, video_name, status, model, prompt_version, resumed_from,
			result_text, groups_done, last_end_time, fps,
			error_code, error_message,
			group_size, num_cams, sample_seconds, video_revision,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.Exec(query,
		a.ID, a.VideoName, a.Status, toNullString(a.Model), toNullString(a.PromptVersion), toNullString(a.ResumedFrom),
		toNullString(a.ResultText), a.GroupsDone, toNullString(a.LastEndTime), toNullFloat(a.FPS),
		toNullString(a.ErrorCode), toNullString(a.ErrorMessage),
		a.GroupSize, a.NumCams, a.SampleSeconds, a.VideoRevision,
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

const analysisColumns = `
	id, video_name, status, model, prompt_version, resumed_from,
	result_text, groups_done, last_end_time, fps,
	error_code, error_message,
	group_size, num_cams, sample_seconds, video_revision,
	created_at, updated_at
`

// GetAnalysis retrieves an analysis by its ULID.
func GetAnalysis(db *sql.DB, id string) (*Analysis, error) {
	row := db.QueryRow(`SELECT `+analysisColumns+` FROM analyses WHERE id = ?`, id)
	a, err := scanAnalysis(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("analysis", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return a, nil
}

// AnalysisFilter narrows ListAnalyses. Empty fields match everything.
type AnalysisFilter struct {
	VideoName string
	Status    string
	Limit     int
	Offset    int
}

// ListAnalyses returns matching analyses, newest first, and the total count
// before pagination.
func ListAnalyses(db *sql.DB, f AnalysisFilter) ([]Analysis, int, error) {
	var (
		where []string
		args  []any
	)
	if f.VideoName != "" {
		where = append(where, "video_name = ?")
		args = append(args, f.VideoName)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := db.QueryRow(`SELECT COUNT(*) FROM analyses`+clause, args...).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + analysisColumns + ` FROM analyses` + clause +
		` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := db.Query(query, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	defer rows.Close()

	items := []Analysis{}
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, 0, errors.NewInternal(err)
		}
		items = append(items, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	return items, total, nil
}

// LatestFailed returns the most recent failed analysis of a video.
func LatestFailed(db *sql.DB, videoName string) (*Analysis, error) {
	query := `SELECT ` + analysisColumns + ` FROM analyses
		WHERE video_name = ? AND status = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`
	a, err := scanAnalysis(db.QueryRow(query, videoName, StatusFailed))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("failed analysis for video", videoName)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return a, nil
}

// CompleteAnalysis stores the final result of a running analysis. It returns
// ErrNotRunning if the row has already left the running state.
func CompleteAnalysis(db *sql.DB, id, resultText string, groupsDone int, lastEndTime string, fps float64) error {
	query := `
		UPDATE analyses
		SET status = ?, result_text = ?, groups_done = ?, last_end_time = ?, fps = ?,
			error_code = NULL, error_message = NULL, updated_at = ?
		WHERE id = ? AND status = ?
	`
	return execRunning(db, id, query,
		StatusCompleted, resultText, groupsDone, nullIfEmpty(lastEndTime), fps, time.Now().Unix(), id, StatusRunning,
	)
}

// FailAnalysis marks a running analysis failed with the error that stopped
// it. It returns ErrNotRunning if the row has already left the running state.
func FailAnalysis(db *sql.DB, id, code, message string) error {
	query := `
		UPDATE analyses
		SET status = ?, error_code = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	return execRunning(db, id, query, StatusFailed, code, message, time.Now().Unix(), id, StatusRunning)
}

// MarkInterrupted fails analyses still marked running whose last progress
// (insert or checkpoint) is older than staleBefore, a Unix timestamp. Rows
// that a live process keeps checkpointing are left alone.
func MarkInterrupted(db *sql.DB, staleBefore int64) (int64, error) {
	query := `
		UPDATE analyses
		SET status = ?, error_code = 'INTERRUPTED', error_message = 'process exited during analysis', updated_at = ?
		WHERE status = ? AND updated_at < ?
	`
	result, err := db.Exec(query, StatusFailed, time.Now().Unix(), StatusRunning, staleBefore)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

// SaveCheckpoint stores the context after a group and advances the
// analysis's progress in the same transaction.
func SaveCheckpoint(db *sql.DB, cp *Checkpoint) error {
	if cp.CreatedAt == 0 {
		cp.CreatedAt = time.Now().Unix()
	}

	tx, err := db.Begin()
	if err != nil {
		return errors.NewInternal(err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO checkpoints (analysis_id, group_index, start_time, end_time, context_text, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, cp.AnalysisID, cp.GroupIndex, cp.StartTime, cp.EndTime, cp.ContextText, cp.CreatedAt)
	if err != nil {
		return errors.NewInternal(err)
	}

	result, err := tx.Exec(`
		UPDATE analyses SET groups_done = ?, last_end_time = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, cp.GroupIndex+1, cp.EndTime, cp.CreatedAt, cp.AnalysisID, StatusRunning)
	if err != nil {
		return errors.NewInternal(err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return errors.NewInternal(err)
	} else if n == 0 {
		return notRunning(tx, cp.AnalysisID)
	}

	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// LatestCheckpoint returns the highest-index checkpoint of an analysis.
func LatestCheckpoint(db *sql.DB, analysisID string) (*Checkpoint, error) {
	query := `
		SELECT analysis_id, group_index, start_time, end_time, context_text, created_at
		FROM checkpoints
		WHERE analysis_id = ?
		ORDER BY group_index DESC
		LIMIT 1
	`
	var cp Checkpoint
	err := db.QueryRow(query, analysisID).Scan(
		&cp.AnalysisID, &cp.GroupIndex, &cp.StartTime, &cp.EndTime, &cp.ContextText, &cp.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("checkpoint for analysis", analysisID)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return &cp, nil
}

// ListCheckpoints returns an analysis's checkpoints in group order.
func ListCheckpoints(db *sql.DB, analysisID string) ([]Checkpoint, error) {
	rows, err := db.Query(`
		SELECT analysis_id, group_index, start_time, end_time, context_text, created_at
		FROM checkpoints
		WHERE analysis_id = ?
		ORDER BY group_index
	`, analysisID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	out := []Checkpoint{}
	for rows.Next() {
		var cp Checkpoint
		if err := rows.Scan(&cp.AnalysisID, &cp.GroupIndex, &cp.StartTime, &cp.EndTime, &cp.ContextText, &cp.CreatedAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// execRunning runs an UPDATE guarded on the analysis id being running.
func execRunning(db *sql.DB, id, query string, args ...any) error {
	result, err := db.Exec(query, args...)
	if err != nil {
		return errors.NewInternal(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return notRunning(db, id)
	}
	return nil
}

type queryRower interface {
	QueryRow(query string, args ...any) *sql.Row
}

// notRunning explains why a guarded update touched no row: NOT_FOUND when
// the id is unknown, ErrNotRunning otherwise.
func notRunning(q queryRower, id string) error {
	var status string
	err := q.QueryRow(`SELECT status FROM analyses WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return errors.NewNotFound("analysis", id)
	}
	if err != nil {
		return errors.NewInternal(err)
	}
	return fmt.Errorf("%w: %s is %s", ErrNotRunning, id, status)
}

type scanner interface {
	Scan(dest ...any) error
}

// scanAnalysis scans a single row into an Analysis struct.
func scanAnalysis(row scanner) (*Analysis, error) {
	var (
		a             Analysis
		model         sql.NullString
		promptVersion sql.NullString
		resumedFrom   sql.NullString
		resultText    sql.NullString
		lastEndTime   sql.NullString
		fps           sql.NullFloat64
		errorCode     sql.NullString
		errorMessage  sql.NullString
	)
	err := row.Scan(
		&a.ID, &a.VideoName, &a.Status, &model, &promptVersion, &resumedFrom,
		&resultText, &a.GroupsDone, &lastEndTime, &fps,
		&errorCode, &errorMessage,
		&a.GroupSize, &a.NumCams, &a.SampleSeconds, &a.VideoRevision,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Model = fromNullString(model)
	a.PromptVersion = fromNullString(promptVersion)
	a.ResumedFrom = fromNullString(resumedFrom)
	a.ResultText = fromNullString(resultText)
	a.LastEndTime = fromNullString(lastEndTime)
	a.ErrorCode = fromNullString(errorCode)
	a.ErrorMessage = fromNullString(errorMessage)
	if fps.Valid {
		a.FPS = &fps.Float64
	}
	return &a, nil
}

// toNullString converts a *string to sql.NullString.
func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// fromNullString converts a sql.NullString to *string.
func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func toNullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
