package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/glidemail/mailcore/dto"
	"github.com/glidemail/mailcore/interfaces"
	"github.com/glidemail/mailcore/internal/tracing"
)

func eventParamsFromRequest(req dto.EventRequest) interfaces.EventParams {
	return interfaces.EventParams{
		Subject:   req.Subject,
		Location:  req.Location,
		Body:      req.Body,
		StartsAt:  req.StartsAt,
		EndsAt:    req.EndsAt,
		AllDay:    req.AllDay,
		Attendees: req.Attendees,
	}
}

// ListEvents returns the account's active calendar events
func ListEvents(events interfaces.CalendarEventRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "ListEvents", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagAccount(span, c.Param("accountId"))

		list, err := events.ListActive(ctx, c.Param("accountId"))
		if err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

// CreateEvent creates a calendar event on the server and mirrors it locally
func CreateEvent(calendarService interfaces.CalendarMutationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "CreateEvent", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagAccount(span, c.Param("accountId"))

		var req dto.EventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		event, err := calendarService.CreateEvent(ctx, c.Param("accountId"), eventParamsFromRequest(req))
		if err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, event)
	}
}

// UpdateEvent edits an existing calendar event
func UpdateEvent(calendarService interfaces.CalendarMutationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "UpdateEvent", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagAccount(span, c.Param("accountId"))
		tracing.TagEntity(span, c.Param("serverId"))

		var req dto.EventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		event, err := calendarService.UpdateEvent(ctx, c.Param("accountId"), c.Param("serverId"), eventParamsFromRequest(req))
		if err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, event)
	}
}

// DeleteEvent deletes an event on the server and soft-deletes it locally
func DeleteEvent(calendarService interfaces.CalendarMutationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "DeleteEvent", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagAccount(span, c.Param("accountId"))
		tracing.TagEntity(span, c.Param("serverId"))

		if err := calendarService.DeleteEvent(ctx, c.Param("accountId"), c.Param("serverId")); err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "event deleted", "id": c.Param("serverId")})
	}
}

// RestoreEvent recovers a soft-deleted event back onto the server
func RestoreEvent(calendarService interfaces.CalendarMutationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "RestoreEvent", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagAccount(span, c.Param("accountId"))
		tracing.TagEntity(span, c.Param("serverId"))

		event, err := calendarService.RestoreEvent(ctx, c.Param("accountId"), c.Param("serverId"))
		if err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, event)
	}
}

// DeleteEvents deletes a batch of events, reporting partial failure
func DeleteEvents(calendarService interfaces.CalendarMutationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "DeleteEvents", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagAccount(span, c.Param("accountId"))

		var req dto.BatchIDsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		result, err := calendarService.DeleteEvents(ctx, c.Param("accountId"), req.ServerIDs)
		if err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, dto.BatchResponse{Succeeded: result.Succeeded, Failed: result.Failed})
	}
}
