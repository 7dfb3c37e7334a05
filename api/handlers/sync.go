package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/glidemail/mailcore/interfaces"
	"github.com/glidemail/mailcore/internal/tracing"
)

// TriggerSyncAll runs a full synchronization cycle for the account
func TriggerSyncAll(syncService interfaces.SyncService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "TriggerSyncAll", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagAccount(span, c.Param("accountId"))

		if err := syncService.SyncAll(ctx, c.Param("accountId")); err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "sync completed"})
	}
}

// TriggerFolderSync synchronizes the folder hierarchy only
func TriggerFolderSync(syncService interfaces.SyncService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "TriggerFolderSync", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagAccount(span, c.Param("accountId"))

		if err := syncService.SyncFolders(ctx, c.Param("accountId")); err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "folder sync completed"})
	}
}

// TriggerMessageSync synchronizes one folder's messages
func TriggerMessageSync(syncService interfaces.SyncService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "TriggerMessageSync", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagAccount(span, c.Param("accountId"))
		tracing.TagEntity(span, c.Param("folderId"))

		if err := syncService.SyncMessages(ctx, c.Param("accountId"), c.Param("folderId")); err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "message sync completed"})
	}
}

// TriggerCalendarSync synchronizes calendar events
func TriggerCalendarSync(syncService interfaces.SyncService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "TriggerCalendarSync", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagAccount(span, c.Param("accountId"))

		if err := syncService.SyncCalendar(ctx, c.Param("accountId")); err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "calendar sync completed"})
	}
}

// TriggerNoteSync synchronizes notes
func TriggerNoteSync(syncService interfaces.SyncService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "TriggerNoteSync", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagAccount(span, c.Param("accountId"))

		if err := syncService.SyncNotes(ctx, c.Param("accountId"), false); err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "note sync completed"})
	}
}
