package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"mime/multipart"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/uni-appeal-api/internal/dto"
	"github.com/noah-isme/uni-appeal-api/internal/models"
	"github.com/noah-isme/uni-appeal-api/internal/repository"
	appErrors "github.com/noah-isme/uni-appeal-api/pkg/errors"
)

const (
	messageMinLen = 5
	messageMaxLen = 1000

	// minResponseLen is the shortest professor response accepted when an
	// appeal is rejected.
	minResponseLen = 3
)

type appealStore interface {
	Create(ctx context.Context, appeal *models.Appeal) error
	GetByID(ctx context.Context, id string) (*models.Appeal, error)
	List(ctx context.Context, filter models.AppealFilter) ([]models.Appeal, error)
	ApplyTransition(ctx context.Context, params repository.TransitionParams) error
	ApplyStudentEdit(ctx context.Context, params repository.StudentEditParams) error
	SetCanEdit(ctx context.Context, id string, canEdit bool, updatedAt time.Time) error
	Delete(ctx context.Context, id string) error
}

type professorDirectory interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
}

type attachmentManager interface {
	Store(fileHeader *multipart.FileHeader, appealID string) (*StoredAttachment, error)
	Remove(storedName string) error
	Open(storedName string) (*os.File, error)
}

type transitionNotifier interface {
	NotifyCreated(ctx context.Context, appeal *models.Appeal)
	NotifyTransition(ctx context.Context, appeal *models.Appeal, actorID string, previous models.AppealState)
}

type auditRecorder interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// AppealService implements the appeal lifecycle: filing, the professor
// decision workflow, student edits under the edit-window policy, and
// deletion of pending appeals.
type AppealService struct {
	repo        appealStore
	users       professorDirectory
	attachments attachmentManager
	notifier    transitionNotifier
	audit       auditRecorder
	metrics     *MetricsService
	logger      *zap.Logger
}

// NewAppealService constructs an AppealService instance.
func NewAppealService(repo appealStore, users professorDirectory, attachments attachmentManager, notifier transitionNotifier, audit auditRecorder, metrics *MetricsService, logger *zap.Logger) *AppealService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AppealService{
		repo:        repo,
		users:       users,
		attachments: attachments,
		notifier:    notifier,
		audit:       audit,
		metrics:     metrics,
		logger:      logger,
	}
}

// Create files a new appeal on behalf of the authenticated student.
func (s *AppealService) Create(ctx context.Context, req dto.CreateAppealRequest, actor *models.JWTClaims) (*models.Appeal, error) {
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}
	if actor.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students can file appeals")
	}
	if !req.Type.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown appeal type")
	}
	message, err := validateMessage(req.Message)
	if err != nil {
		return nil, err
	}

	professor, err := s.resolveProfessor(ctx, req.ProfessorEmail)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	appeal := &models.Appeal{
		ID:          uuid.NewString(),
		Type:        req.Type,
		Message:     message,
		State:       models.AppealStatePending,
		CanEdit:     true,
		StudentID:   actor.UserID,
		ProfessorID: professor.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var stored *StoredAttachment
	if req.Attachment != nil {
		stored, err = s.attachments.Store(req.Attachment, appeal.ID)
		if err != nil {
			return nil, err
		}
		appeal.Attachment = &stored.Name
		appeal.AttachmentName = &stored.OriginalName
		appeal.AttachmentMime = &stored.Mime
	}

	if err := s.repo.Create(ctx, appeal); err != nil {
		if stored != nil {
			_ = s.attachments.Remove(stored.Name)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create appeal")
	}

	appeal.Student = &models.UserInfo{ID: actor.UserID, Email: actor.Email, FullName: actor.FullName, Role: actor.Role}
	appeal.Professor = &models.UserInfo{ID: professor.ID, Email: professor.Email, FullName: professor.FullName, Role: professor.Role}

	s.recordAudit(ctx, actor, models.AuditActionAppealCreate, appeal.ID,
		fmt.Sprintf(`{"type":%q,"professor_id":%q}`, appeal.Type, appeal.ProfessorID))
	s.notifier.NotifyCreated(ctx, appeal)

	return appeal, nil
}

// Transition applies a professor decision to an appeal. The persisted
// update is guarded by the loaded state so concurrent decisions on the
// same appeal collapse to a single winner.
func (s *AppealService) Transition(ctx context.Context, id string, req dto.TransitionAppealRequest, actor *models.JWTClaims) (*models.Appeal, error) {
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}

	appeal, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleProfessor || actor.UserID != appeal.ProfessorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the assigned professor can decide this appeal")
	}
	if appeal.State.IsTerminal() {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "appeal is already resolved")
	}
	if !req.State.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown target state")
	}
	if !models.CanTransition(appeal.State, req.State) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("cannot move appeal from %s to %s", appeal.State, req.State))
	}

	now := time.Now().UTC()
	previous := appeal.State
	params := repository.TransitionParams{
		ID:                appeal.ID,
		FromState:         previous,
		ToState:           req.State,
		ProfessorResponse: appeal.ProfessorResponse,
		CitationDate:      appeal.CitationDate,
		EditDeadline:      appeal.EditDeadline,
		CanEdit:           appeal.CanEdit,
		UpdatedAt:         now,
	}

	response := strings.TrimSpace(req.ProfessorResponse)
	switch req.State {
	case models.AppealStateRevised:
		// acknowledgement only, nothing else changes

	case models.AppealStateCited:
		if req.CitationDate != "" {
			citation, err := time.Parse(time.RFC3339, req.CitationDate)
			if err != nil {
				return nil, appErrors.Clone(appErrors.ErrValidation, "citationDate must be RFC 3339")
			}
			citation = citation.UTC()
			deadline := citation.Add(-models.EditWindow)
			params.CitationDate = &citation
			params.EditDeadline = &deadline
		} else if appeal.CitationDate == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "citationDate is required for a citation")
		}
		params.CanEdit = true
		if response != "" {
			params.ProfessorResponse = &response
		}

	case models.AppealStateAccepted:
		if response != "" {
			params.ProfessorResponse = &response
		}
		params.CitationDate = nil
		params.EditDeadline = nil
		params.CanEdit = false

	case models.AppealStateRejected:
		if len(response) < minResponseLen {
			return nil, appErrors.Clone(appErrors.ErrValidation, "a rejection requires a professor response")
		}
		params.ProfessorResponse = &response
		params.CitationDate = nil
		params.EditDeadline = nil
		params.CanEdit = false

	default:
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "state cannot be targeted directly")
	}

	if err := s.repo.ApplyTransition(ctx, params); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "appeal was decided concurrently, reload and retry")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply transition")
	}

	appeal.State = req.State
	appeal.ProfessorResponse = params.ProfessorResponse
	appeal.CitationDate = params.CitationDate
	appeal.EditDeadline = params.EditDeadline
	appeal.CanEdit = params.CanEdit
	appeal.UpdatedAt = now

	s.metrics.RecordTransition(string(previous), string(appeal.State))
	s.recordAudit(ctx, actor, models.AuditActionAppealTransition, appeal.ID,
		fmt.Sprintf(`{"from":%q,"to":%q}`, previous, appeal.State))
	s.notifier.NotifyTransition(ctx, appeal, actor.UserID, previous)

	return appeal, nil
}

// Edit applies a student change to an appeal while the edit window is
// open. A stale stored can_edit flag is flipped and persisted before the
// edit is rejected.
func (s *AppealService) Edit(ctx context.Context, id string, req dto.EditAppealRequest, actor *models.JWTClaims) (*models.Appeal, error) {
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}

	appeal, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleStudent || actor.UserID != appeal.StudentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the owning student can edit this appeal")
	}

	now := time.Now().UTC()
	editable := appeal.EditableAt(now)
	if !editable && appeal.CanEdit {
		if err := s.repo.SetCanEdit(ctx, appeal.ID, false, now); err != nil {
			s.logger.Warn("failed to persist edit-window flip", zap.String("appeal_id", appeal.ID), zap.Error(err))
		}
		appeal.CanEdit = false
	}
	// Terminal decisions clear the edit deadline, so a resolved appeal is
	// never editable and the order of these two checks only picks the error.
	if appeal.State.IsTerminal() {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "appeal is already resolved")
	}
	if !editable {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "the edit window for this appeal has closed")
	}
	if req.Empty() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no changes supplied")
	}

	params := repository.StudentEditParams{ID: appeal.ID, UpdatedAt: now}

	if req.Message != nil {
		message, err := validateMessage(*req.Message)
		if err != nil {
			return nil, err
		}
		params.Message = &message
	}

	var professor *models.User
	if req.ProfessorEmail != nil {
		professor, err = s.resolveProfessor(ctx, *req.ProfessorEmail)
		if err != nil {
			return nil, err
		}
		params.ProfessorID = &professor.ID
	}

	var previousFile string
	if appeal.Attachment != nil {
		previousFile = *appeal.Attachment
	}

	var stored *StoredAttachment
	if req.Attachment != nil {
		stored, err = s.attachments.Store(req.Attachment, appeal.ID)
		if err != nil {
			return nil, err
		}
		params.SetAttachment = true
		params.Attachment = &stored.Name
		params.AttachmentName = &stored.OriginalName
		params.AttachmentMime = &stored.Mime
	} else if req.RemoveAttachment {
		params.SetAttachment = true
	}

	if err := s.repo.ApplyStudentEdit(ctx, params); err != nil {
		if stored != nil {
			_ = s.attachments.Remove(stored.Name)
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "appeal was resolved concurrently, reload and retry")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to edit appeal")
	}

	if params.SetAttachment && previousFile != "" {
		_ = s.attachments.Remove(previousFile)
	}

	if params.Message != nil {
		appeal.Message = *params.Message
	}
	if professor != nil {
		appeal.ProfessorID = professor.ID
		appeal.Professor = &models.UserInfo{ID: professor.ID, Email: professor.Email, FullName: professor.FullName, Role: professor.Role}
	}
	if params.SetAttachment {
		appeal.Attachment = params.Attachment
		appeal.AttachmentName = params.AttachmentName
		appeal.AttachmentMime = params.AttachmentMime
	}
	appeal.UpdatedAt = now

	s.recordAudit(ctx, actor, models.AuditActionAppealEdit, appeal.ID, `{"status":"edited"}`)

	return appeal, nil
}

// Get returns a single appeal scoped to the caller. The edit-window flag
// is re-evaluated on every read and a stale true value is persisted back
// as false.
func (s *AppealService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Appeal, error) {
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}

	appeal, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeRead(appeal, actor); err != nil {
		return nil, err
	}

	s.refreshEditability(ctx, appeal, time.Now().UTC())
	return appeal, nil
}

// List returns appeals visible to the caller. Students see their own,
// professors the ones assigned to them, administrators everything.
func (s *AppealService) List(ctx context.Context, query dto.AppealQuery, actor *models.JWTClaims) ([]models.Appeal, error) {
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}

	for _, state := range query.States {
		if !state.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, "unknown state filter")
		}
	}
	if query.Type != "" && !query.Type.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown type filter")
	}

	filter := models.AppealFilter{
		States:      query.States,
		Type:        query.Type,
		StudentID:   query.StudentID,
		ProfessorID: query.ProfessorID,
		Limit:       query.Limit,
		Offset:      query.Offset,
	}
	switch actor.Role {
	case models.RoleStudent:
		filter.StudentID = actor.UserID
	case models.RoleProfessor:
		filter.ProfessorID = actor.UserID
	}

	start := time.Now()
	appeals, err := s.repo.List(ctx, filter)
	s.metrics.ObserveDBQuery("appeals_list", time.Since(start))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list appeals")
	}

	now := time.Now().UTC()
	for i := range appeals {
		appeals[i].CanEdit = appeals[i].EditableAt(now)
	}
	return appeals, nil
}

// Delete removes a pending appeal. Only administrators may delete, and
// any appeal that has left PENDING stays intact.
func (s *AppealService) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}
	if actor.Role != models.RoleAdmin {
		return appErrors.Clone(appErrors.ErrForbidden, "only administrators can delete appeals")
	}

	appeal, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if appeal.State != models.AppealStatePending {
		return appErrors.Clone(appErrors.ErrInvalidState, "only pending appeals can be deleted")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrConflict, "appeal left PENDING concurrently")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete appeal")
	}

	if appeal.Attachment != nil {
		_ = s.attachments.Remove(*appeal.Attachment)
	}

	s.recordAudit(ctx, actor, models.AuditActionAppealDelete, appeal.ID,
		fmt.Sprintf(`{"state":%q}`, appeal.State))

	return nil
}

// OpenAttachment returns a handle to the appeal's stored attachment for
// streaming, scoped like Get.
func (s *AppealService) OpenAttachment(ctx context.Context, id string, actor *models.JWTClaims) (*os.File, *models.Appeal, error) {
	if actor == nil {
		return nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}

	appeal, err := s.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if err := s.authorizeRead(appeal, actor); err != nil {
		return nil, nil, err
	}
	if appeal.Attachment == nil {
		return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "appeal has no attachment")
	}

	file, err := s.attachments.Open(*appeal.Attachment)
	if err != nil {
		return nil, nil, err
	}
	return file, appeal, nil
}

// GetForDownload resolves an appeal without an authenticated actor, for
// signed-URL downloads where the token itself carries the authorization.
func (s *AppealService) GetForDownload(ctx context.Context, id, storedName string) (*os.File, *models.Appeal, error) {
	appeal, err := s.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if appeal.Attachment == nil || *appeal.Attachment != storedName {
		return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "attachment no longer available")
	}
	file, err := s.attachments.Open(storedName)
	if err != nil {
		return nil, nil, err
	}
	return file, appeal, nil
}

func (s *AppealService) load(ctx context.Context, id string) (*models.Appeal, error) {
	appeal, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "appeal not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load appeal")
	}
	return appeal, nil
}

func (s *AppealService) authorizeRead(appeal *models.Appeal, actor *models.JWTClaims) error {
	switch {
	case actor.Role == models.RoleAdmin:
	case actor.UserID == appeal.StudentID:
	case actor.UserID == appeal.ProfessorID:
	default:
		return appErrors.Clone(appErrors.ErrForbidden, "appeal belongs to another user")
	}
	return nil
}

func (s *AppealService) refreshEditability(ctx context.Context, appeal *models.Appeal, now time.Time) {
	editable := appeal.EditableAt(now)
	if appeal.CanEdit && !editable {
		if err := s.repo.SetCanEdit(ctx, appeal.ID, false, now); err != nil {
			s.logger.Warn("failed to persist edit-window flip", zap.String("appeal_id", appeal.ID), zap.Error(err))
		}
	}
	appeal.CanEdit = editable
}

func (s *AppealService) resolveProfessor(ctx context.Context, email string) (*models.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "professorEmail is required")
	}
	professor, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "professor not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up professor")
	}
	if professor.Role != models.RoleProfessor || !professor.Active {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "professor not found")
	}
	return professor, nil
}

func (s *AppealService) recordAudit(ctx context.Context, actor *models.JWTClaims, action, appealID, newValues string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     action,
		Resource:   "appeals",
		ResourceID: &appealID,
		NewValues:  []byte(newValues),
	}); err != nil {
		s.logger.Warn("failed to record appeal audit log", zap.String("appeal_id", appealID), zap.Error(err))
	}
}

func validateMessage(message string) (string, error) {
	trimmed := strings.TrimSpace(message)
	if len(trimmed) < messageMinLen {
		return "", appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("message must be at least %d characters", messageMinLen))
	}
	if len(trimmed) > messageMaxLen {
		return "", appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("message must be at most %d characters", messageMaxLen))
	}
	return trimmed, nil
}
