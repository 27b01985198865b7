package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/classroom-attendance/internal/web/handlers"
	"github.com/kozaktomas/classroom-attendance/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	svc := s.services

	// Create handlers
	healthHandler := handlers.NewHealthHandler(svc.Health)
	configHandler := handlers.NewConfigHandler(svc.Presets)
	studentsHandler := handlers.NewStudentsHandler(svc.Roster)
	attendanceHandler := handlers.NewAttendanceHandler(svc.Pipeline, svc.Presets, svc.Reports, svc.Ledger, svc.Students, svc.Notifier)
	mediaHandler := handlers.NewMediaHandler(svc.Media, svc.Extractor, svc.Presets, s.jobManager)
	rtspHandler := handlers.NewRTSPHandler(s.base, svc.Scheduler, svc.Presets)

	if svc.Metrics != nil {
		s.router.Handle("/metrics", svc.Metrics)
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.Check)
		r.Get("/config", configHandler.Get)

		// Roster
		r.Get("/students", studentsHandler.List)
		r.Post("/students", studentsHandler.Create)
		r.Put("/students/{roll}", studentsHandler.Update)
		r.Delete("/students/{roll}", studentsHandler.Delete)

		// Recognition
		r.Post("/attendance/frame", attendanceHandler.Frame)
		r.Post("/attendance/media", mediaHandler.Upload)
		r.Get("/attendance/media/{jobId}", mediaHandler.Status)
		r.Get("/attendance/media/{jobId}/events", mediaHandler.Events)
		r.Delete("/attendance/media/{jobId}", mediaHandler.Cancel)

		// RTSP worker
		r.Post("/rtsp/start", rtspHandler.Start)
		r.Post("/rtsp/stop", rtspHandler.Stop)
		r.Get("/rtsp/status", rtspHandler.Status)
		r.Get("/rtsp/check", rtspHandler.Check)

		// Views are limited to the requesting staff member's cohort
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireStaff(svc.Staff))

			r.Get("/attendance/slot", attendanceHandler.Slot)
			r.Get("/attendance/day", attendanceHandler.Day)
			r.Get("/attendance/export", attendanceHandler.Export)
			r.Post("/attendance/notify", attendanceHandler.Notify)
			r.Delete("/attendance/slot", attendanceHandler.ClearSlot)
		})
	})
}
