package session

import "github.com/fyrsmithlabs/taskpilot/internal/apperr"

func errTaskNotFound(id string) error {
	return apperr.NotFound("detach_task", "task "+id)
}
