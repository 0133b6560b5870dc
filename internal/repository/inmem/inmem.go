// Package inmem provides map-backed repositories with the same uniqueness and
// versioning guarantees as the MongoDB ones. Used by service and handler tests.
package inmem

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gradeflow/internal/model"
	"gradeflow/internal/repository"
)

var seq int64

func nextID(prefix string) string {
	return fmt.Sprintf("%s%06d", prefix, atomic.AddInt64(&seq, 1))
}

// SheetRepo is an in-memory repository.SheetRepo
type SheetRepo struct {
	mu     sync.Mutex
	sheets map[string]*model.AnswerSheet
}

var _ repository.SheetRepo = (*SheetRepo)(nil)

func NewSheetRepo() *SheetRepo {
	return &SheetRepo{sheets: make(map[string]*model.AnswerSheet)}
}

// violatesUnique reports whether s would collide with another active sheet.
func (r *SheetRepo) violatesUnique(s *model.AnswerSheet) bool {
	for id, other := range r.sheets {
		if id == s.ID || !other.IsActive || !s.IsActive {
			continue
		}
		if s.StudentID != "" && other.StudentID == s.StudentID && other.ExamID == s.ExamID {
			return true
		}
		if s.StorageKey != "" && other.StorageKey == s.StorageKey {
			return true
		}
	}
	return false
}

func (r *SheetRepo) Create(_ context.Context, sheet *model.AnswerSheet) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sheet.ID == "" {
		sheet.ID = nextID("sheet-")
	}
	if r.violatesUnique(sheet) {
		return repository.ErrDuplicateSheet
	}
	now := time.Now()
	sheet.Version = 1
	sheet.CreatedAt = now
	sheet.UpdatedAt = now
	model.ApplyFlagStats(sheet)
	r.sheets[sheet.ID] = cloneSheet(sheet)
	return nil
}

func (r *SheetRepo) GetByID(_ context.Context, id string) (*model.AnswerSheet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sheets[id]; ok {
		return cloneSheet(s), nil
	}
	return nil, nil
}

func (r *SheetRepo) FindActiveByStudent(_ context.Context, examID, studentID string) (*model.AnswerSheet, error) {
	return r.first(func(s *model.AnswerSheet) bool {
		return s.IsActive && s.ExamID == examID && s.StudentID == studentID
	}), nil
}

func (r *SheetRepo) FindActiveByContentHash(_ context.Context, examID, hash string) (*model.AnswerSheet, error) {
	return r.first(func(s *model.AnswerSheet) bool {
		return s.IsActive && s.ExamID == examID && s.ContentHash == hash
	}), nil
}

func (r *SheetRepo) first(pred func(*model.AnswerSheet) bool) *model.AnswerSheet {
	list := r.filter(pred)
	if len(list) == 0 {
		return nil
	}
	return list[0]
}

func (r *SheetRepo) filter(pred func(*model.AnswerSheet) bool) []*model.AnswerSheet {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.AnswerSheet
	for _, s := range r.sheets {
		if pred(s) {
			out = append(out, cloneSheet(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UploadedAt.Equal(out[j].UploadedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UploadedAt.Before(out[j].UploadedAt)
	})
	return out
}

func (r *SheetRepo) List(_ context.Context, f repository.SheetFilter) ([]*model.AnswerSheet, error) {
	return r.filter(func(s *model.AnswerSheet) bool {
		if !s.IsActive {
			return false
		}
		if f.ExamID != "" && s.ExamID != f.ExamID {
			return false
		}
		if f.Status != "" && s.Status != f.Status {
			return false
		}
		if f.UploadedBy != "" && s.UploadedBy != f.UploadedBy {
			return false
		}
		if f.FlaggedOnly {
			open := false
			for _, fl := range s.Flags {
				if !fl.Resolved {
					open = true
				}
			}
			return open
		}
		return true
	}), nil
}

func (r *SheetRepo) ListStaleProcessing(_ context.Context, startedBefore time.Time) ([]*model.AnswerSheet, error) {
	return r.filter(func(s *model.AnswerSheet) bool {
		return s.IsActive && s.Status == model.SheetStatusProcessing &&
			s.ProcessingStartedAt != nil && s.ProcessingStartedAt.Before(startedBefore)
	}), nil
}

func (r *SheetRepo) Save(_ context.Context, sheet *model.AnswerSheet) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.sheets[sheet.ID]
	if !ok || cur.Version != sheet.Version {
		return repository.ErrVersionConflict
	}
	if r.violatesUnique(sheet) {
		return repository.ErrDuplicateSheet
	}
	model.ApplyFlagStats(sheet)
	sheet.Version++
	sheet.UpdatedAt = time.Now()
	r.sheets[sheet.ID] = cloneSheet(sheet)
	return nil
}

func cloneSheet(s *model.AnswerSheet) *model.AnswerSheet {
	c := *s
	c.Flags = append([]model.SheetFlag(nil), s.Flags...)
	c.ManualOverrides = append([]model.ManualOverride(nil), s.ManualOverrides...)
	if s.AICorrection != nil {
		ai := *s.AICorrection
		ai.Questions = append([]model.QuestionResult(nil), s.AICorrection.Questions...)
		c.AICorrection = &ai
	}
	return &c
}

// NotificationRepo is an in-memory repository.NotificationRepo
type NotificationRepo struct {
	mu    sync.Mutex
	items []*model.Notification
}

var _ repository.NotificationRepo = (*NotificationRepo)(nil)

func NewNotificationRepo() *NotificationRepo {
	return &NotificationRepo{}
}

func (r *NotificationRepo) Create(_ context.Context, n *model.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n.ID == "" {
		n.ID = nextID("notif-")
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	if n.Status == "" {
		n.Status = model.NotificationUnread
	}
	c := *n
	r.items = append(r.items, &c)
	return nil
}

func (r *NotificationRepo) GetByID(_ context.Context, id string) (*model.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.items {
		if n.ID == id {
			c := *n
			return &c, nil
		}
	}
	return nil, nil
}

func (r *NotificationRepo) ListByRecipient(_ context.Context, recipientID string, status model.NotificationStatus, limit int64) ([]*model.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Notification
	for i := len(r.items) - 1; i >= 0; i-- {
		n := r.items[i]
		if n.RecipientID != recipientID || (status != "" && n.Status != status) {
			continue
		}
		c := *n
		out = append(out, &c)
		if limit > 0 && int64(len(out)) == limit {
			break
		}
	}
	return out, nil
}

func (r *NotificationRepo) Update(_ context.Context, n *model.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, cur := range r.items {
		if cur.ID == n.ID {
			c := *n
			r.items[i] = &c
			return nil
		}
	}
	return nil
}

func (r *NotificationRepo) AcknowledgeByEntity(_ context.Context, ref model.EntityRef, by string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, item := range r.items {
		if item.Related == nil || *item.Related != ref {
			continue
		}
		if item.Status != model.NotificationUnread && item.Status != model.NotificationRead {
			continue
		}
		item.Status = model.NotificationAcknowledged
		item.AcknowledgedBy = by
		stamp := at
		item.AcknowledgedAt = &stamp
		n++
	}
	return n, nil
}

// All returns a snapshot of every stored notification in creation order
func (r *NotificationRepo) All() []*model.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Notification, 0, len(r.items))
	for _, n := range r.items {
		c := *n
		out = append(out, &c)
	}
	return out
}

// UserRepo is an in-memory repository.UserRepo
type UserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User
}

var _ repository.UserRepo = (*UserRepo)(nil)

func NewUserRepo() *UserRepo {
	return &UserRepo{users: make(map[string]*model.User)}
}

func (r *UserRepo) Create(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	for _, u := range r.users {
		if u.Email == user.Email {
			return repository.ErrDuplicateEmail
		}
	}
	if user.ID == "" {
		user.ID = nextID("user-")
	}
	user.CreatedAt = time.Now()
	c := *user
	r.users[user.ID] = &c
	return nil
}

func (r *UserRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		c := *u
		return &c, nil
	}
	return nil, nil
}

func (r *UserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range r.users {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, nil
}

func (r *UserRepo) ListByRole(_ context.Context, roles ...model.Role) ([]*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.User
	for _, u := range r.users {
		if !u.IsActive {
			continue
		}
		for _, role := range roles {
			if u.Role == role {
				c := *u
				out = append(out, &c)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ClassRepo is an in-memory repository.ClassRepo
type ClassRepo struct {
	mu       sync.Mutex
	classes  map[string]*model.Class
	students map[string]*model.Student
}

var _ repository.ClassRepo = (*ClassRepo)(nil)

func NewClassRepo() *ClassRepo {
	return &ClassRepo{
		classes:  make(map[string]*model.Class),
		students: make(map[string]*model.Student),
	}
}

func (r *ClassRepo) CreateClass(_ context.Context, class *model.Class) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if class.ID == "" {
		class.ID = nextID("class-")
	}
	class.CreatedAt = time.Now()
	c := *class
	c.TeacherIDs = append([]string(nil), class.TeacherIDs...)
	r.classes[class.ID] = &c
	return nil
}

func (r *ClassRepo) GetClass(_ context.Context, id string) (*model.Class, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.classes[id]; ok {
		cp := *c
		cp.TeacherIDs = append([]string(nil), c.TeacherIDs...)
		return &cp, nil
	}
	return nil, nil
}

func (r *ClassRepo) CreateStudent(_ context.Context, student *model.Student) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if student.IsActive {
		for _, s := range r.students {
			if s.IsActive && s.ClassID == student.ClassID && s.RollNumber == student.RollNumber {
				return repository.ErrDuplicateRollNumber
			}
		}
	}
	if student.ID == "" {
		student.ID = nextID("student-")
	}
	student.CreatedAt = time.Now()
	c := *student
	r.students[student.ID] = &c
	return nil
}

func (r *ClassRepo) GetStudent(_ context.Context, id string) (*model.Student, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.students[id]; ok {
		c := *s
		return &c, nil
	}
	return nil, nil
}

func (r *ClassRepo) ListActiveStudents(_ context.Context, classID string) ([]*model.Student, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Student
	for _, s := range r.students {
		if s.IsActive && s.ClassID == classID {
			c := *s
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RollNumber == out[j].RollNumber {
			return out[i].ID < out[j].ID
		}
		return out[i].RollNumber < out[j].RollNumber
	})
	return out, nil
}

// ExamRepo is an in-memory repository.ExamRepo
type ExamRepo struct {
	mu    sync.Mutex
	exams map[string]*model.Exam
}

var _ repository.ExamRepo = (*ExamRepo)(nil)

func NewExamRepo() *ExamRepo {
	return &ExamRepo{exams: make(map[string]*model.Exam)}
}

func (r *ExamRepo) Create(_ context.Context, exam *model.Exam) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if exam.ID == "" {
		exam.ID = nextID("exam-")
	}
	exam.CreatedAt = time.Now()
	c := *exam
	c.Questions = append([]model.ExamQuestion(nil), exam.Questions...)
	r.exams[exam.ID] = &c
	return nil
}

func (r *ExamRepo) GetByID(_ context.Context, id string) (*model.Exam, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.exams[id]; ok {
		c := *e
		c.Questions = append([]model.ExamQuestion(nil), e.Questions...)
		return &c, nil
	}
	return nil, nil
}
