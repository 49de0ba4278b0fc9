package async

import (
	"database/sql"
)

// taskScanArgs holds the nullable columns of a task row
type taskScanArgs struct {
	Payload     sql.NullString
	ErrorMsg    sql.NullString
	StartedAt   sql.NullTime
	CompletedAt sql.NullTime
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// taskSelectColumns is the column list every task SELECT uses, matching scanTask
const taskSelectColumns = `id, handler_name, job_id, payload, status, error, attempt,
		run_after, created_at, started_at, completed_at, updated_at`

func scanTask(row rowScanner) (*Task, error) {
	var task Task
	var args taskScanArgs

	err := row.Scan(
		&task.ID,
		&task.HandlerName,
		&task.JobID,
		&args.Payload,
		&task.Status,
		&args.ErrorMsg,
		&task.Attempt,
		&task.RunAfter,
		&task.CreatedAt,
		&args.StartedAt,
		&args.CompletedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if args.Payload.Valid {
		task.Payload = []byte(args.Payload.String)
	}
	if args.ErrorMsg.Valid {
		task.Error = args.ErrorMsg.String
	}
	if args.StartedAt.Valid {
		task.StartedAt = &args.StartedAt.Time
	}
	if args.CompletedAt.Valid {
		task.CompletedAt = &args.CompletedAt.Time
	}
	return &task, nil
}
