package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/glidemail/mailcore/dto"
	"github.com/glidemail/mailcore/interfaces"
	"github.com/glidemail/mailcore/internal/tracing"
)

// ListMessages returns one folder's messages
func ListMessages(messages interfaces.MessageRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "ListMessages", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagAccount(span, c.Param("accountId"))
		tracing.TagEntity(span, c.Param("folderId"))

		list, err := messages.ListByFolder(ctx, c.Param("accountId"), c.Param("folderId"))
		if err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

// DeleteMessages moves a batch of messages to trash
func DeleteMessages(messageService interfaces.MessageMutationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "DeleteMessages", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagAccount(span, c.Param("accountId"))

		var req dto.BatchMessagesRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		result, err := messageService.DeleteMessages(ctx, c.Param("accountId"), req.FolderServerID, req.ServerIDs)
		if err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, dto.BatchResponse{Succeeded: result.Succeeded, Failed: result.Failed})
	}
}

// RestoreMessages recovers a batch of trashed messages
func RestoreMessages(messageService interfaces.MessageMutationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "RestoreMessages", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagAccount(span, c.Param("accountId"))

		var req dto.BatchIDsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		result, err := messageService.RestoreMessages(ctx, c.Param("accountId"), req.ServerIDs)
		if err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, dto.BatchResponse{Succeeded: result.Succeeded, Failed: result.Failed})
	}
}

// PurgeMessages permanently removes a batch of messages
func PurgeMessages(messageService interfaces.MessageMutationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "PurgeMessages", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagAccount(span, c.Param("accountId"))

		var req dto.BatchIDsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		result, err := messageService.PurgeMessages(ctx, c.Param("accountId"), req.ServerIDs)
		if err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, dto.BatchResponse{Succeeded: result.Succeeded, Failed: result.Failed})
	}
}
