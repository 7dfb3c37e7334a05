package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/glidemail/mailcore/api/handlers"
	"github.com/glidemail/mailcore/api/middleware"
	"github.com/glidemail/mailcore/internal/repository"
	"github.com/glidemail/mailcore/internal/tracing"
	"github.com/glidemail/mailcore/services"
)

// RegisterRoutes sets up all API endpoints
func RegisterRoutes(ctx context.Context, r *gin.Engine, s *services.Services, repos *repository.Repositories, apikey string) {
	if s == nil {
		panic("Services cannot be nil")
	}
	if repos == nil {
		panic("Repositories cannot be nil")
	}

	// Add recovery middlewares
	r.Use(gin.Recovery())
	r.Use(tracing.RecoveryWithJaeger(opentracing.GlobalTracer()))

	// Health check endpoint (no auth)
	r.GET("/health", handlers.HealthCheck)

	apiKeyMiddleware := middleware.APIKeyMiddleware(middleware.APIKeyConfig{
		HeaderName:  "X-MAILCORE-API-KEY",
		ValidAPIKey: apikey,
	})

	// API group with version
	api := r.Group("/v1")
	api.Use(apiKeyMiddleware)
	api.Use(middleware.TracingMiddleware())
	{
		// Account endpoints
		accounts := api.Group("/accounts")
		{
			accounts.GET("", handlers.ListAccounts(repos.AccountRepository))
			accounts.POST("", handlers.CreateAccount(s.AccountService))
			accounts.GET("/:accountId", handlers.GetAccount(repos.AccountRepository))
			accounts.PUT("/:accountId/credentials", handlers.UpdateAccountCredentials(s.AccountService))
			accounts.DELETE("/:accountId", handlers.DeleteAccount(s.AccountService))
		}

		// Sync triggers
		sync := api.Group("/accounts/:accountId/sync")
		{
			sync.POST("", handlers.TriggerSyncAll(s.SyncService))
			sync.POST("/folders", handlers.TriggerFolderSync(s.SyncService))
			sync.POST("/messages/:folderId", handlers.TriggerMessageSync(s.SyncService))
			sync.POST("/calendar", handlers.TriggerCalendarSync(s.SyncService))
			sync.POST("/notes", handlers.TriggerNoteSync(s.SyncService))
		}

		// Folder and message endpoints
		api.GET("/accounts/:accountId/folders", handlers.ListFolders(repos.FolderRepository))

		messages := api.Group("/accounts/:accountId/messages")
		{
			messages.GET("/:folderId", handlers.ListMessages(repos.MessageRepository))
			messages.POST("/delete", handlers.DeleteMessages(s.MessageService))
			messages.POST("/restore", handlers.RestoreMessages(s.MessageService))
			messages.POST("/purge", handlers.PurgeMessages(s.MessageService))
		}

		// Calendar endpoints
		events := api.Group("/accounts/:accountId/events")
		{
			events.GET("", handlers.ListEvents(repos.CalendarEventRepository))
			events.POST("", handlers.CreateEvent(s.CalendarService))
			events.PUT("/:serverId", handlers.UpdateEvent(s.CalendarService))
			events.DELETE("/:serverId", handlers.DeleteEvent(s.CalendarService))
			events.POST("/:serverId/restore", handlers.RestoreEvent(s.CalendarService))
			events.POST("/delete", handlers.DeleteEvents(s.CalendarService))
		}

		// Note endpoints
		notes := api.Group("/accounts/:accountId/notes")
		{
			notes.GET("", handlers.ListNotes(repos.NoteRepository))
			notes.POST("", handlers.CreateNote(s.NoteService))
			notes.PUT("/:serverId", handlers.UpdateNote(s.NoteService))
			notes.DELETE("/:serverId", handlers.DeleteNote(s.NoteService))
			notes.POST("/:serverId/restore", handlers.RestoreNote(s.NoteService))
			notes.POST("/delete", handlers.DeleteNotes(s.NoteService))
		}
	}
}
