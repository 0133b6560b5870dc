package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gradeflow/internal/model"
	"gradeflow/internal/repository/inmem"
	"gradeflow/internal/scan"
	"gradeflow/internal/storage"
	"gradeflow/internal/worker"
)

// fakeDetector returns canned detections keyed by file name
type fakeDetector struct {
	mu         sync.Mutex
	detections map[string]*model.RollNumberDetection
	calls      int
}

func (d *fakeDetector) Detect(_ context.Context, page *scan.Page) *model.RollNumberDetection {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if det, ok := d.detections[page.FileName]; ok {
		c := *det
		return &c
	}
	return &model.RollNumberDetection{ImageQuality: model.ScanQualityGood, IsAligned: true}
}

func (d *fakeDetector) set(fileName, roll string, confidence float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.detections[fileName] = &model.RollNumberDetection{
		RollNumber:   roll,
		Confidence:   confidence,
		ImageQuality: model.ScanQualityGood,
		IsAligned:    true,
	}
}

// recordingBroadcaster keeps every pushed message
type recordingBroadcaster struct {
	mu   sync.Mutex
	sent []string
}

func (b *recordingBroadcaster) SendToUser(userID, msgType string, _ interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, userID+":"+msgType)
}

// stubCorrector returns a fixed result or error
type stubCorrector struct {
	result  *model.AICorrection
	err     error
	started chan struct{}
	block   chan struct{}
}

func (c *stubCorrector) Correct(ctx context.Context, exam *model.Exam, sheet *model.AnswerSheet, file []byte) (*model.AICorrection, error) {
	if c.started != nil {
		select {
		case c.started <- struct{}{}:
		default:
		}
	}
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	if c.result != nil {
		r := *c.result
		return &r, nil
	}
	return MockCorrector{}.Correct(ctx, exam, sheet, file)
}

type fixture struct {
	users         *inmem.UserRepo
	classes       *inmem.ClassRepo
	exams         *inmem.ExamRepo
	sheetRepo     *inmem.SheetRepo
	notifications *inmem.NotificationRepo
	broadcaster   *recordingBroadcaster
	detector      *fakeDetector
	store         *storage.LocalStore

	roster     *RosterService
	dispatcher *Dispatcher
	sheets     *SheetService
	uploads    *UploadService

	admin, teacher, outsider *model.User
	studentUser              *model.User
	class                    *model.Class
	exam                     *model.Exam
	students                 map[string]*model.Student // by roll number
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		users:         inmem.NewUserRepo(),
		classes:       inmem.NewClassRepo(),
		exams:         inmem.NewExamRepo(),
		sheetRepo:     inmem.NewSheetRepo(),
		notifications: inmem.NewNotificationRepo(),
		broadcaster:   &recordingBroadcaster{},
		detector:      &fakeDetector{detections: map[string]*model.RollNumberDetection{}},
		students:      map[string]*model.Student{},
	}
	store, err := storage.NewLocalStore(t.TempDir(), "http://files.test")
	require.NoError(t, err)
	f.store = store

	f.roster = NewRosterService(f.users, f.classes, f.exams, nil)
	f.dispatcher = NewDispatcher(f.notifications, f.users, f.broadcaster, nil)
	f.sheets = NewSheetService(f.sheetRepo, f.roster, f.dispatcher)
	f.uploads = NewUploadService(f.roster, NewStudentMatcher(f.roster), f.detector, f.store, f.sheetRepo, f.dispatcher, 0)

	f.admin = f.addUser(t, "admin@school.test", model.RoleAdmin, "")
	f.teacher = f.addUser(t, "teacher@school.test", model.RoleTeacher, f.admin.ID)
	f.outsider = f.addUser(t, "other@school.test", model.RoleTeacher, f.admin.ID)
	f.studentUser = f.addUser(t, "pupil@school.test", model.RoleStudent, "")

	f.class, err = f.roster.CreateClass(ctx, &model.CreateClassRequest{Name: "Grade 7A", TeacherIDs: []string{f.teacher.ID}})
	require.NoError(t, err)

	for _, roll := range []string{"007", "120", "1001"} {
		req := &model.AddStudentRequest{Name: "Student " + roll, RollNumber: roll}
		if roll == "007" {
			req.UserID = f.studentUser.ID
		}
		st, err := f.roster.AddStudent(ctx, f.class.ID, req)
		require.NoError(t, err)
		f.students[roll] = st
	}

	f.exam, err = f.roster.CreateExam(ctx, f.teacher.ID, &model.CreateExamRequest{
		ClassID: f.class.ID,
		Title:   "Science midterm",
		Questions: []model.ExamQuestion{
			{Number: 1, Text: "Boiling point of water?", CorrectAnswer: "100C", Marks: 5},
			{Number: 2, Text: "Chemical symbol of gold?", CorrectAnswer: "Au", Marks: 5},
			{Number: 3, Text: "Speed of light?", CorrectAnswer: "3e8 m/s", Marks: 10},
		},
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) addUser(t *testing.T, email string, role model.Role, supervisor string) *model.User {
	t.Helper()
	u := &model.User{Name: email, Email: email, Role: role, SupervisorID: supervisor, IsActive: true}
	require.NoError(t, f.users.Create(context.Background(), u))
	return u
}

// pdf builds a distinct minimal PDF payload per name
func pdf(name string) UploadFile {
	return UploadFile{FileName: name, Data: []byte("%PDF-1.4\n% " + name + "\n")}
}

// upload stores a sheet whose detection is fixed to roll/confidence
func (f *fixture) upload(t *testing.T, name, roll string, confidence float64) *model.SheetSummary {
	t.Helper()
	f.detector.set(name, roll, confidence)
	sum, err := f.uploads.Upload(context.Background(), f.exam.ID, f.teacher.ID, pdf(name), "")
	require.NoError(t, err)
	return sum
}

func (f *fixture) notificationsOf(userID string, typ model.NotificationType) []*model.Notification {
	var out []*model.Notification
	for _, n := range f.notifications.All() {
		if n.RecipientID == userID && n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

func (f *fixture) processing(t *testing.T, corrector Corrector, queueSize int) (*ProcessingService, *worker.Pool) {
	t.Helper()
	pool := worker.NewPool(1, queueSize, 5*time.Second)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	})
	return NewProcessingService(f.sheets, f.roster, f.store, corrector, pool, f.dispatcher, time.Minute), pool
}
