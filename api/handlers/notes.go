package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/glidemail/mailcore/dto"
	"github.com/glidemail/mailcore/interfaces"
	"github.com/glidemail/mailcore/internal/tracing"
)

// ListNotes returns the account's active notes
func ListNotes(notes interfaces.NoteRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "ListNotes", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagAccount(span, c.Param("accountId"))

		list, err := notes.ListActive(ctx, c.Param("accountId"))
		if err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

// CreateNote creates a note on the server and mirrors it locally
func CreateNote(noteService interfaces.NoteMutationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "CreateNote", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagAccount(span, c.Param("accountId"))

		var req dto.NoteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		note, err := noteService.CreateNote(ctx, c.Param("accountId"), interfaces.NoteParams{Subject: req.Subject, Body: req.Body})
		if err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, note)
	}
}

// UpdateNote edits an existing note
func UpdateNote(noteService interfaces.NoteMutationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "UpdateNote", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagAccount(span, c.Param("accountId"))
		tracing.TagEntity(span, c.Param("serverId"))

		var req dto.NoteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		note, err := noteService.UpdateNote(ctx, c.Param("accountId"), c.Param("serverId"), interfaces.NoteParams{Subject: req.Subject, Body: req.Body})
		if err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, note)
	}
}

// DeleteNote deletes a note on the server and soft-deletes it locally
func DeleteNote(noteService interfaces.NoteMutationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "DeleteNote", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagAccount(span, c.Param("accountId"))
		tracing.TagEntity(span, c.Param("serverId"))

		if err := noteService.DeleteNote(ctx, c.Param("accountId"), c.Param("serverId")); err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "note deleted", "id": c.Param("serverId")})
	}
}

// RestoreNote recovers a soft-deleted note back onto the server
func RestoreNote(noteService interfaces.NoteMutationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "RestoreNote", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagAccount(span, c.Param("accountId"))
		tracing.TagEntity(span, c.Param("serverId"))

		note, err := noteService.RestoreNote(ctx, c.Param("accountId"), c.Param("serverId"))
		if err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, note)
	}
}

// DeleteNotes deletes a batch of notes, reporting partial failure
func DeleteNotes(noteService interfaces.NoteMutationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "DeleteNotes", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagAccount(span, c.Param("accountId"))

		var req dto.BatchIDsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		result, err := noteService.DeleteNotes(ctx, c.Param("accountId"), req.ServerIDs)
		if err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, dto.BatchResponse{Succeeded: result.Succeeded, Failed: result.Failed})
	}
}
