package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gradeflow/internal/config"
	"gradeflow/internal/model"
	"gradeflow/internal/repository/inmem"
	"gradeflow/internal/service"
	"gradeflow/internal/storage"
	"gradeflow/internal/transport/ws"
	"gradeflow/internal/worker"
)

type testAPI struct {
	handler http.Handler
	auth    *service.AuthService
	roster  *service.RosterService
	users   *inmem.UserRepo

	admin, teacher, student *model.User
	class                   *model.Class
	exam                    *model.Exam
	students                map[string]*model.Student
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	ctx := context.Background()

	api := &testAPI{users: inmem.NewUserRepo(), students: map[string]*model.Student{}}
	sheets := inmem.NewSheetRepo()
	notifications := inmem.NewNotificationRepo()
	store, err := storage.NewLocalStore(t.TempDir(), "http://files.test")
	require.NoError(t, err)

	hub := ws.NewHub()
	t.Cleanup(hub.Close)
	pool := worker.NewPool(1, 8, 5*time.Second)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	})

	api.auth = service.NewAuthService(api.users, config.AuthConfig{JWTSecret: "test", TokenTTL: time.Hour})
	api.roster = service.NewRosterService(api.users, inmem.NewClassRepo(), inmem.NewExamRepo(), nil)
	dispatcher := service.NewDispatcher(notifications, api.users, hub, nil)
	sheetSvc := service.NewSheetService(sheets, api.roster, dispatcher)
	uploadSvc := service.NewUploadService(api.roster, service.NewStudentMatcher(api.roster), service.NewMockDetector(),
		store, sheets, dispatcher, 0)

	api.handler = NewRouter(&Container{
		HTTP:                config.HTTPConfig{AllowedOrigins: "*", MaxUploadBytes: 1 << 20},
		AuthService:         api.auth,
		RosterService:       api.roster,
		UploadService:       uploadSvc,
		SheetService:        sheetSvc,
		ProcessingService:   service.NewProcessingService(sheetSvc, api.roster, store, service.MockCorrector{}, pool, dispatcher, time.Minute),
		ReportService:       service.NewReportService(sheets, api.roster),
		NotificationService: service.NewNotificationService(notifications),
		WSHub:               hub,
	})

	hash, err := service.HashPassword("pass1234")
	require.NoError(t, err)
	newUser := func(email string, role model.Role, supervisor string) *model.User {
		u := &model.User{Name: email, Email: email, Role: role, SupervisorID: supervisor, PasswordHash: hash, IsActive: true}
		require.NoError(t, api.users.Create(ctx, u))
		return u
	}
	api.admin = newUser("admin@school.test", model.RoleAdmin, "")
	api.teacher = newUser("teacher@school.test", model.RoleTeacher, api.admin.ID)
	api.student = newUser("pupil@school.test", model.RoleStudent, "")

	api.class, err = api.roster.CreateClass(ctx, &model.CreateClassRequest{Name: "7A", TeacherIDs: []string{api.teacher.ID}})
	require.NoError(t, err)
	for _, roll := range []string{"007", "120"} {
		st, err := api.roster.AddStudent(ctx, api.class.ID, &model.AddStudentRequest{Name: "Student " + roll, RollNumber: roll})
		require.NoError(t, err)
		api.students[roll] = st
	}
	api.exam, err = api.roster.CreateExam(ctx, api.teacher.ID, &model.CreateExamRequest{
		ClassID: api.class.ID,
		Title:   "Algebra quiz",
		Questions: []model.ExamQuestion{
			{Number: 1, CorrectAnswer: "4", Marks: 5},
			{Number: 2, CorrectAnswer: "x=2", Marks: 5},
		},
	})
	require.NoError(t, err)
	return api
}

func (a *testAPI) token(t *testing.T, u *model.User) string {
	t.Helper()
	tok, err := a.auth.IssueToken(u)
	require.NoError(t, err)
	return tok
}

func (a *testAPI) do(t *testing.T, method, path string, as *model.User, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		req.Header.Set("Authorization", "Bearer "+a.token(t, as))
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) upload(t *testing.T, path string, as *model.User, field string, files map[string][]byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, data := range files {
		part, err := mw.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+a.token(t, as))
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func pdfBytes(tag string) []byte {
	return []byte("%PDF-1.4\n% " + tag + "\n")
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestLoginEndpoint(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/v1/auth/login", nil, map[string]string{"email": "teacher@school.test", "password": "pass1234"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp model.LoginResponse
	decode(t, rec, &resp)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, api.teacher.ID, resp.User.ID)
	assert.NotContains(t, rec.Body.String(), "passwordHash")

	rec = api.do(t, http.MethodPost, "/v1/auth/login", nil, map[string]string{"email": "teacher@school.test", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(t, http.MethodPost, "/v1/auth/login", nil, map[string]string{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var verr struct {
		Fields map[string]string `json:"fields"`
	}
	decode(t, rec, &verr)
	assert.Contains(t, verr.Fields, "email")
	assert.Contains(t, verr.Fields, "password")
}

func TestAuthorization(t *testing.T) {
	api := newTestAPI(t)
	examPath := "/v1/exams/" + api.exam.ID

	tests := []struct {
		name   string
		method string
		path   string
		as     *model.User
		want   int
	}{
		{"no token", http.MethodGet, examPath, nil, http.StatusUnauthorized},
		{"student on staff route", http.MethodGet, examPath, api.student, http.StatusForbidden},
		{"teacher of the class", http.MethodGet, examPath, api.teacher, http.StatusOK},
		{"admin", http.MethodGet, examPath, api.admin, http.StatusOK},
		{"teacher cannot create classes", http.MethodPost, "/v1/classes", api.teacher, http.StatusForbidden},
		{"unknown exam", http.MethodGet, "/v1/exams/missing", api.teacher, http.StatusNotFound},
		{"student reads own inbox", http.MethodGet, "/v1/notifications", api.student, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(t, tt.method, tt.path, tt.as, map[string]string{"name": "8B"})
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestUploadAndGradeFlow(t *testing.T) {
	api := newTestAPI(t)
	base := "/v1/exams/" + api.exam.ID

	rec := api.upload(t, base+"/sheets", api.teacher, "file", map[string][]byte{"roll_007.pdf": pdfBytes("a")}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var summary model.SheetSummary
	decode(t, rec, &summary)
	assert.Equal(t, api.students["007"].ID, summary.StudentID)
	assert.Equal(t, model.SheetStatusUploaded, summary.Status)

	sheetPath := "/v1/sheets/" + summary.SheetID

	rec = api.do(t, http.MethodPost, sheetPath+"/complete", api.teacher, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "ungraded sheet")

	rec = api.do(t, http.MethodPost, sheetPath+"/ai-correction", api.teacher, map[string]interface{}{
		"totalMarks": 10, "obtainedMarks": 7, "percentage": 70, "confidence": 0.9,
		"questions": []map[string]interface{}{
			{"questionNumber": 1, "marksAwarded": 5, "maxMarks": 5, "confidence": 0.9},
			{"questionNumber": 2, "marksAwarded": 2, "maxMarks": 5, "confidence": 0.9},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(t, http.MethodPost, sheetPath+"/overrides", api.teacher, map[string]interface{}{"questionNumber": 2, "correctedMarks": 4})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "reason is required")

	rec = api.do(t, http.MethodPost, sheetPath+"/overrides", api.admin, map[string]interface{}{
		"questionNumber": 2, "correctedMarks": 4, "reason": "method marks",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sheet model.AnswerSheet
	decode(t, rec, &sheet)
	assert.Equal(t, model.SheetStatusManuallyReviewed, sheet.Status)
	assert.Equal(t, 2.0, sheet.AICorrection.Questions[1].MarksAwarded)

	rec = api.do(t, http.MethodPost, sheetPath+"/complete", api.teacher, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(t, http.MethodGet, base+"/summary", api.teacher, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report model.ExamSummary
	decode(t, rec, &report)
	assert.Equal(t, 1, report.Graded)
	assert.Equal(t, 90.0, report.AveragePercent)

	rec = api.do(t, http.MethodGet, base+"/report.pdf", api.teacher, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")))

	// the teacher hears about the admin's correction
	rec = api.do(t, http.MethodGet, "/v1/notifications?status=UNREAD", api.teacher, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), string(model.NotifManualOverrideAdded))
}

func TestUploadConflictsAndValidation(t *testing.T) {
	api := newTestAPI(t)
	path := "/v1/exams/" + api.exam.ID + "/sheets"
	studentID := api.students["120"].ID

	rec := api.upload(t, path, api.teacher, "file", map[string][]byte{"scan.pdf": pdfBytes("a")}, map[string]string{"studentId": studentID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = api.upload(t, path, api.teacher, "file", map[string][]byte{"scan2.pdf": pdfBytes("b")}, map[string]string{"studentId": studentID})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.upload(t, path, api.teacher, "file", map[string][]byte{"notes.txt": []byte("hello")}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), string(model.FlagInvalidFormat))

	rec = api.upload(t, path, api.teacher, "other", map[string][]byte{"scan.pdf": pdfBytes("c")}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing file field")
}

func TestBatchUploadEndpoint(t *testing.T) {
	api := newTestAPI(t)
	rec := api.upload(t, "/v1/exams/"+api.exam.ID+"/sheets/batch", api.teacher, "files", map[string][]byte{
		"roll_007.pdf": pdfBytes("1"),
		"roll_999.pdf": pdfBytes("2"),
		"empty.pdf":    {},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result model.BatchUploadResult
	decode(t, rec, &result)
	assert.Equal(t, 1, result.Matched)
	assert.Equal(t, 1, result.Unmatched)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "empty.pdf", result.Errors[0].FileName)
}

func TestDetectEndpointStoresNothing(t *testing.T) {
	api := newTestAPI(t)
	base := "/v1/exams/" + api.exam.ID

	rec := api.upload(t, base+"/sheets/detect", api.teacher, "file", map[string][]byte{"roll_120.pdf": pdfBytes("x")}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res model.DetectAndMatchResult
	decode(t, rec, &res)
	assert.Equal(t, "120", res.RollNumberDetection.RollNumber)
	require.NotNil(t, res.StudentMatching.MatchedStudent)
	assert.Equal(t, api.students["120"].ID, res.StudentMatching.MatchedStudent.StudentID)

	rec = api.do(t, http.MethodGet, base+"/sheets", api.teacher, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":0`)
}

func TestMissingStudentAndAcknowledge(t *testing.T) {
	api := newTestAPI(t)
	path := "/v1/exams/" + api.exam.ID + "/students/" + api.students["007"].ID + "/missing"

	rec := api.do(t, http.MethodPost, path, api.teacher, map[string]string{"reason": "never handed in"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sheet model.AnswerSheet
	decode(t, rec, &sheet)
	assert.Equal(t, model.SheetStatusMissing, sheet.Status)

	ackPath := "/v1/sheets/" + sheet.ID + "/acknowledge"
	assert.Equal(t, http.StatusForbidden, api.do(t, http.MethodPost, ackPath, api.teacher, nil).Code)

	rec = api.do(t, http.MethodPost, ackPath, api.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &sheet)
	require.NotNil(t, sheet.AcknowledgedAt)

	rec = api.do(t, http.MethodPost, "/v1/sheets/"+sheet.ID+"/process", api.teacher, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestProcessEndpoint(t *testing.T) {
	api := newTestAPI(t)
	rec := api.upload(t, "/v1/exams/"+api.exam.ID+"/sheets", api.teacher, "file", map[string][]byte{"roll_007.pdf": pdfBytes("p")}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var summary model.SheetSummary
	decode(t, rec, &summary)

	rec = api.do(t, http.MethodPost, "/v1/sheets/"+summary.SheetID+"/process", api.teacher, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var resp model.ProcessResponse
	decode(t, rec, &resp)
	assert.Equal(t, model.SheetStatusProcessing, resp.Status)

	require.Eventually(t, func() bool {
		rec := api.do(t, http.MethodGet, "/v1/sheets/"+summary.SheetID, api.teacher, nil)
		return strings.Contains(rec.Body.String(), string(model.SheetStatusAICorrected))
	}, 3*time.Second, 20*time.Millisecond)
}

func TestResolveFlagEndpoint(t *testing.T) {
	api := newTestAPI(t)
	rec := api.upload(t, "/v1/exams/"+api.exam.ID+"/sheets", api.teacher, "file", map[string][]byte{"blank.pdf": pdfBytes("u")}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var summary model.SheetSummary
	decode(t, rec, &summary)
	require.Empty(t, summary.StudentID)

	sheetPath := "/v1/sheets/" + summary.SheetID
	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodPost, sheetPath+"/flags/x/resolve", api.teacher, nil).Code)

	rec = api.do(t, http.MethodPost, sheetPath+"/assign", api.teacher, map[string]string{"studentId": api.students["120"].ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sheet model.AnswerSheet
	decode(t, rec, &sheet)
	assert.Equal(t, model.SheetStatusUploaded, sheet.Status)

	rec = api.do(t, http.MethodDelete, sheetPath, api.teacher, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodGet, sheetPath, api.teacher, nil).Code)
}

func TestCORSPreflight(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodOptions, "/v1/auth/login", nil)
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
