package rest

import (
	"net/http"

	"github.com/gorilla/mux"

	"gradeflow/internal/config"
	"gradeflow/internal/model"
	"gradeflow/internal/service"
	"gradeflow/internal/transport/rest/handler"
	"gradeflow/internal/transport/rest/middleware"
	"gradeflow/internal/transport/ws"
)

// Container holds all dependencies for the router
type Container struct {
	HTTP                config.HTTPConfig
	AuthService         *service.AuthService
	RosterService       *service.RosterService
	UploadService       *service.UploadService
	SheetService        *service.SheetService
	ProcessingService   *service.ProcessingService
	ReportService       *service.ReportService
	NotificationService *service.NotificationService
	WSHub               *ws.Hub
}

// NewRouter creates the API router with all endpoints
func NewRouter(c *Container) http.Handler {
	r := mux.NewRouter()

	// Initialize handlers
	authHandler := handler.NewAuthHandler(c.AuthService)
	rosterHandler := handler.NewRosterHandler(c.RosterService)
	uploadHandler := handler.NewUploadHandler(c.UploadService, c.HTTP.MaxUploadBytes)
	sheetHandler := handler.NewSheetHandler(c.SheetService, c.ProcessingService, c.RosterService)
	reportHandler := handler.NewReportHandler(c.ReportService, c.RosterService)
	notificationHandler := handler.NewNotificationHandler(c.NotificationService)
	wsHandler := ws.NewHandler(c.WSHub, c.AuthService, c.HTTP.AllowedOrigins)

	// Initialize middleware
	authMW := middleware.NewAuthMiddleware(c.AuthService)

	// CORS middleware (apply first)
	r.Use(corsMiddleware(c.HTTP))
	r.Use(middleware.AccessLog)

	// Health check
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	// API v1 routes
	v1 := r.PathPrefix("/v1").Subrouter()

	// Public routes
	v1.HandleFunc("/auth/login", authHandler.Login).Methods("POST", "OPTIONS")

	// WebSocket routes (token in query param)
	v1.HandleFunc("/ws/notifications", wsHandler.NotificationsWS).Methods("GET")

	// Any signed-in user
	userRoutes := v1.NewRoute().Subrouter()
	userRoutes.Use(authMW.RequireUser)

	userRoutes.HandleFunc("/notifications", notificationHandler.List).Methods("GET", "OPTIONS")
	userRoutes.HandleFunc("/notifications/{id}/read", notificationHandler.MarkRead).Methods("POST", "OPTIONS")
	userRoutes.HandleFunc("/notifications/{id}/acknowledge", notificationHandler.Acknowledge).Methods("POST", "OPTIONS")
	userRoutes.HandleFunc("/notifications/{id}/dismiss", notificationHandler.Dismiss).Methods("POST", "OPTIONS")

	// Staff routes (teachers and admins; class access is checked per request)
	staffRoutes := v1.NewRoute().Subrouter()
	staffRoutes.Use(authMW.RequireUser)
	staffRoutes.Use(authMW.RequireRole(model.RoleSuperAdmin, model.RoleAdmin, model.RoleTeacher))

	staffRoutes.HandleFunc("/classes/{classId}/students", rosterHandler.AddStudent).Methods("POST", "OPTIONS")
	staffRoutes.HandleFunc("/classes/{classId}/students", rosterHandler.ListStudents).Methods("GET", "OPTIONS")
	staffRoutes.HandleFunc("/exams", rosterHandler.CreateExam).Methods("POST", "OPTIONS")
	staffRoutes.HandleFunc("/exams/{examId}", rosterHandler.GetExam).Methods("GET", "OPTIONS")

	staffRoutes.HandleFunc("/exams/{examId}/sheets", uploadHandler.Upload).Methods("POST", "OPTIONS")
	staffRoutes.HandleFunc("/exams/{examId}/sheets/batch", uploadHandler.BatchUpload).Methods("POST", "OPTIONS")
	staffRoutes.HandleFunc("/exams/{examId}/sheets/detect", uploadHandler.Detect).Methods("POST", "OPTIONS")
	staffRoutes.HandleFunc("/exams/{examId}/sheets", sheetHandler.List).Methods("GET", "OPTIONS")
	staffRoutes.HandleFunc("/exams/{examId}/summary", reportHandler.Summary).Methods("GET", "OPTIONS")
	staffRoutes.HandleFunc("/exams/{examId}/report.pdf", reportHandler.PDF).Methods("GET", "OPTIONS")
	staffRoutes.HandleFunc("/exams/{examId}/students/{studentId}/missing", sheetHandler.MarkStudentMissing).Methods("POST", "OPTIONS")
	staffRoutes.HandleFunc("/exams/{examId}/students/{studentId}/absent", sheetHandler.MarkStudentAbsent).Methods("POST", "OPTIONS")

	staffRoutes.HandleFunc("/sheets/{sheetId}", sheetHandler.Get).Methods("GET", "OPTIONS")
	staffRoutes.HandleFunc("/sheets/{sheetId}", sheetHandler.Delete).Methods("DELETE", "OPTIONS")
	staffRoutes.HandleFunc("/sheets/{sheetId}/missing", sheetHandler.MarkMissing).Methods("POST", "OPTIONS")
	staffRoutes.HandleFunc("/sheets/{sheetId}/absent", sheetHandler.MarkAbsent).Methods("POST", "OPTIONS")
	staffRoutes.HandleFunc("/sheets/{sheetId}/process", sheetHandler.Process).Methods("POST", "OPTIONS")
	staffRoutes.HandleFunc("/sheets/{sheetId}/ai-correction", sheetHandler.ApplyAICorrection).Methods("POST", "OPTIONS")
	staffRoutes.HandleFunc("/sheets/{sheetId}/overrides", sheetHandler.AddOverride).Methods("POST", "OPTIONS")
	staffRoutes.HandleFunc("/sheets/{sheetId}/complete", sheetHandler.Complete).Methods("POST", "OPTIONS")
	staffRoutes.HandleFunc("/sheets/{sheetId}/assign", sheetHandler.Assign).Methods("POST", "OPTIONS")
	staffRoutes.HandleFunc("/sheets/{sheetId}/flags/{index}/resolve", sheetHandler.ResolveFlag).Methods("POST", "OPTIONS")

	// Admin routes
	adminRoutes := v1.NewRoute().Subrouter()
	adminRoutes.Use(authMW.RequireUser)
	adminRoutes.Use(authMW.RequireRole(model.RoleSuperAdmin, model.RoleAdmin))

	adminRoutes.HandleFunc("/classes", rosterHandler.CreateClass).Methods("POST", "OPTIONS")
	adminRoutes.HandleFunc("/sheets/{sheetId}/acknowledge", sheetHandler.Acknowledge).Methods("POST", "OPTIONS")

	return r
}

func corsMiddleware(cfg config.HTTPConfig) mux.MiddlewareFunc {
	allowedOrigins := cfg.AllowedOrigins
	if allowedOrigins == "" {
		allowedOrigins = "*"
	}
	allowedMethods := cfg.AllowedMethods
	if allowedMethods == "" {
		allowedMethods = "GET, POST, PUT, DELETE, OPTIONS"
	}
	allowedHeaders := cfg.AllowedHeaders
	if allowedHeaders == "" {
		allowedHeaders = "Content-Type, Authorization"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigins)
			w.Header().Set("Access-Control-Allow-Methods", allowedMethods)
			w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
