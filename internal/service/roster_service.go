package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gradeflow/internal/cache"
	"gradeflow/internal/logger"
	"gradeflow/internal/model"
	"gradeflow/internal/repository"
)

// RosterService handles classes, students, exams and class-level access
type RosterService struct {
	users   repository.UserRepo
	classes repository.ClassRepo
	exams   repository.ExamRepo
	cache   cache.RosterCache
}

// NewRosterService creates a new roster service. rosterCache may be nil.
func NewRosterService(users repository.UserRepo, classes repository.ClassRepo, exams repository.ExamRepo, rosterCache cache.RosterCache) *RosterService {
	return &RosterService{
		users:   users,
		classes: classes,
		exams:   exams,
		cache:   rosterCache,
	}
}

// GetUser returns an active user
func (s *RosterService) GetUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.IsActive {
		return nil, notFound("user", userID)
	}
	return user, nil
}

// CreateClass creates a class taught by the given teachers
func (s *RosterService) CreateClass(ctx context.Context, req *model.CreateClassRequest) (*model.Class, error) {
	for _, id := range req.TeacherIDs {
		user, err := s.GetUser(ctx, id)
		if err != nil {
			return nil, err
		}
		if user.Role != model.RoleTeacher {
			return nil, NewValidationError("teacherIds", fmt.Sprintf("user %s is not a teacher", id))
		}
	}

	class := &model.Class{
		Name:       strings.TrimSpace(req.Name),
		TeacherIDs: req.TeacherIDs,
		IsActive:   true,
		CreatedAt:  time.Now(),
	}
	if class.TeacherIDs == nil {
		class.TeacherIDs = []string{}
	}
	if err := s.classes.CreateClass(ctx, class); err != nil {
		return nil, fmt.Errorf("create class: %w", err)
	}
	return class, nil
}

// GetClass returns an active class
func (s *RosterService) GetClass(ctx context.Context, classID string) (*model.Class, error) {
	class, err := s.classes.GetClass(ctx, classID)
	if err != nil {
		return nil, err
	}
	if class == nil || !class.IsActive {
		return nil, notFound("class", classID)
	}
	return class, nil
}

// AddStudent adds a student to a class roster. Roll numbers are unique per class.
func (s *RosterService) AddStudent(ctx context.Context, classID string, req *model.AddStudentRequest) (*model.Student, error) {
	if _, err := s.GetClass(ctx, classID); err != nil {
		return nil, err
	}

	student := &model.Student{
		ClassID:    classID,
		UserID:     req.UserID,
		Name:       strings.TrimSpace(req.Name),
		RollNumber: strings.TrimSpace(req.RollNumber),
		Email:      strings.ToLower(strings.TrimSpace(req.Email)),
		IsActive:   true,
		CreatedAt:  time.Now(),
	}
	if err := s.classes.CreateStudent(ctx, student); err != nil {
		if errors.Is(err, repository.ErrDuplicateRollNumber) {
			return nil, fmt.Errorf("roll number %s: %w", student.RollNumber, ErrConflict)
		}
		return nil, fmt.Errorf("add student: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, classID); err != nil {
			logger.Warnf("[Roster] failed to invalidate roster cache for class %s: %v", classID, err)
		}
	}
	return student, nil
}

// GetStudent returns a student by id
func (s *RosterService) GetStudent(ctx context.Context, studentID string) (*model.Student, error) {
	student, err := s.classes.GetStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if student == nil {
		return nil, notFound("student", studentID)
	}
	return student, nil
}

// ListActiveStudents returns the class roster ordered by roll number, cache first
func (s *RosterService) ListActiveStudents(ctx context.Context, classID string) ([]*model.Student, error) {
	if s.cache != nil {
		cached, err := s.cache.GetStudents(ctx, classID)
		if err != nil {
			logger.Warnf("[Roster] cache read failed for class %s: %v", classID, err)
		} else if cached != nil {
			return cached, nil
		}
	}

	students, err := s.classes.ListActiveStudents(ctx, classID)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	if students == nil {
		students = []*model.Student{}
	}

	if s.cache != nil {
		if err := s.cache.SetStudents(ctx, classID, students); err != nil {
			logger.Warnf("[Roster] cache write failed for class %s: %v", classID, err)
		}
	}
	return students, nil
}

// CreateExam creates an exam for a class the creator can access
func (s *RosterService) CreateExam(ctx context.Context, createdBy string, req *model.CreateExamRequest) (*model.Exam, error) {
	if err := s.RequireClassAccess(ctx, createdBy, req.ClassID); err != nil {
		return nil, err
	}

	seen := make(map[int]bool, len(req.Questions))
	for _, q := range req.Questions {
		if seen[q.Number] {
			return nil, NewValidationError("questions", fmt.Sprintf("question %d is listed twice", q.Number))
		}
		seen[q.Number] = true
	}

	exam := &model.Exam{
		ClassID:    req.ClassID,
		SubjectID:  req.SubjectID,
		Title:      strings.TrimSpace(req.Title),
		Language:   req.Language,
		TotalMarks: req.TotalMarks,
		Questions:  req.Questions,
		ExamDate:   req.ExamDate,
		CreatedBy:  createdBy,
		CreatedAt:  time.Now(),
	}
	if exam.Language == "" {
		exam.Language = "en"
	}
	if exam.Questions == nil {
		exam.Questions = []model.ExamQuestion{}
	}
	if exam.TotalMarks == 0 {
		exam.TotalMarks = exam.MaxMarks()
	}
	if err := s.exams.Create(ctx, exam); err != nil {
		return nil, fmt.Errorf("create exam: %w", err)
	}
	return exam, nil
}

// GetExam returns an exam by id
func (s *RosterService) GetExam(ctx context.Context, examID string) (*model.Exam, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		return nil, err
	}
	if exam == nil {
		return nil, notFound("exam", examID)
	}
	return exam, nil
}

// HasClassAccess reports whether the user may work with the class.
// Admins always may, teachers when assigned to it, students never.
func (s *RosterService) HasClassAccess(ctx context.Context, userID, classID string) (bool, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return false, err
	}
	if user == nil || !user.IsActive {
		return false, nil
	}
	if user.Role.IsAdmin() {
		return true, nil
	}
	if user.Role != model.RoleTeacher {
		return false, nil
	}
	class, err := s.classes.GetClass(ctx, classID)
	if err != nil {
		return false, err
	}
	return class != nil && class.IsActive && class.HasTeacher(userID), nil
}

// RequireClassAccess returns ErrForbidden unless HasClassAccess holds
func (s *RosterService) RequireClassAccess(ctx context.Context, userID, classID string) error {
	ok, err := s.HasClassAccess(ctx, userID, classID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("class %s: %w", classID, ErrForbidden)
	}
	return nil
}

// ExamForUser loads an exam and checks the user can access its class
func (s *RosterService) ExamForUser(ctx context.Context, userID, examID string) (*model.Exam, error) {
	exam, err := s.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	if err := s.RequireClassAccess(ctx, userID, exam.ClassID); err != nil {
		return nil, err
	}
	return exam, nil
}

// Admins returns every active admin, used when a user has no supervisor
func (s *RosterService) Admins(ctx context.Context) ([]*model.User, error) {
	return s.users.ListByRole(ctx, model.RoleSuperAdmin, model.RoleAdmin)
}
