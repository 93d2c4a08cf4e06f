package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	domainrepo "github.com/ignatzorin/gig-escrow/internal/domain/repository"
	"github.com/ignatzorin/gig-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/gig-escrow/internal/logger"
	"github.com/ignatzorin/gig-escrow/internal/pkg/apperror"
)

// ProjectStateMachine - единственный путь изменения Project.status.
// Каждый переход делается одним условным UPDATE по множеству допустимых предшественников.
type ProjectStateMachine struct{}

// Transition переводит проект в to. Повтор уже выполненного перехода не ошибка
// (applied=false). Недопустимый переход возвращает Conflict.
func (sm ProjectStateMachine) Transition(ctx context.Context, projects domainrepo.ProjectRepository, id uuid.UUID, to valueobject.ProjectStatus) (bool, error) {
	return sm.TransitionFrom(ctx, projects, id, to, to.Predecessors())
}

// TransitionFrom - то же, но с более узким множеством исходных статусов.
func (sm ProjectStateMachine) TransitionFrom(ctx context.Context, projects domainrepo.ProjectRepository, id uuid.UUID, to valueobject.ProjectStatus, from []valueobject.ProjectStatus) (bool, error) {
	from = allowedOnly(to, from)
	applied, err := projects.TransitionStatus(ctx, id, to, from)
	if err != nil {
		return false, err
	}
	if applied {
		logger.Log.WithFields(logrus.Fields{"project_id": id, "status": to}).Info("статус проекта изменён")
		return true, nil
	}

	current, err := projects.GetByID(ctx, id)
	if err != nil {
		return false, notFound(err, apperror.ErrProjectNotFound)
	}
	if current.Status == to {
		return false, nil
	}
	return false, apperror.New(apperror.ErrCodeConflict,
		fmt.Sprintf("нельзя перевести проект из %s в %s", current.Status, to))
}

// Apply - вариант для вебхуков: события приходят в произвольном порядке,
// поэтому переход назад или из терминального статуса молча игнорируется.
func (sm ProjectStateMachine) Apply(ctx context.Context, projects domainrepo.ProjectRepository, id uuid.UUID, to valueobject.ProjectStatus) (bool, error) {
	applied, err := sm.Transition(ctx, projects, id, to)
	if apperror.IsConflict(err) {
		logger.Log.WithFields(logrus.Fields{"project_id": id, "status": to}).WithError(err).Info("переход проекта проигнорирован")
		return false, nil
	}
	return applied, err
}

// allowedOnly не даёт вызывающему расширить таблицу переходов.
func allowedOnly(to valueobject.ProjectStatus, from []valueobject.ProjectStatus) []valueobject.ProjectStatus {
	out := make([]valueobject.ProjectStatus, 0, len(from))
	for _, s := range from {
		if s.CanTransitionTo(to) {
			out = append(out, s)
		}
	}
	return out
}
