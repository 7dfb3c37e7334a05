package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/glidemail/mailcore/dto"
	"github.com/glidemail/mailcore/interfaces"
	"github.com/glidemail/mailcore/internal/enum"
	"github.com/glidemail/mailcore/internal/models"
	"github.com/glidemail/mailcore/internal/tracing"
)

// ListAccounts returns all configured accounts
func ListAccounts(accounts interfaces.AccountRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "ListAccounts", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		list, err := accounts.List(ctx)
		if err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

// GetAccount returns one account by id
func GetAccount(accounts interfaces.AccountRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "GetAccount", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagAccount(span, c.Param("accountId"))

		account, err := accounts.GetByID(ctx, c.Param("accountId"))
		if err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, account)
	}
}

// CreateAccount verifies connectivity with the supplied configuration and
// persists the account
func CreateAccount(accountService interfaces.AccountService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "CreateAccount", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		var req dto.CreateAccountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		protocol := enum.GetProtocolKind(req.Protocol)
		if protocol == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown protocol: " + req.Protocol})
			return
		}

		serverTLS := true
		if req.ServerTLS != nil {
			serverTLS = *req.ServerTLS
		}

		account := &models.Account{
			Email:          req.Email,
			DisplayName:    req.DisplayName,
			Protocol:       protocol,
			CredentialsRef: req.CredentialsRef,
			ServerHost:     req.ServerHost,
			ServerPort:     req.ServerPort,
			ServerTLS:      serverTLS,
			TLSPinSHA256:   req.TLSPinSHA256,
		}

		created, err := accountService.CreateAccount(ctx, account)
		if err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, created)
	}
}

// UpdateAccountCredentials rotates the credential reference and TLS pin
func UpdateAccountCredentials(accountService interfaces.AccountService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "UpdateAccountCredentials", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagAccount(span, c.Param("accountId"))

		var req dto.UpdateCredentialsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := accountService.UpdateCredentials(ctx, c.Param("accountId"), req.CredentialsRef, req.TLSPinSHA256); err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "credentials updated"})
	}
}

// DeleteAccount removes the account and all synchronized data under it
func DeleteAccount(accountService interfaces.AccountService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "DeleteAccount", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagAccount(span, c.Param("accountId"))

		if err := accountService.DeleteAccount(ctx, c.Param("accountId")); err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "account deleted", "id": c.Param("accountId")})
	}
}

// ListFolders returns the synchronized folder hierarchy for an account
func ListFolders(folders interfaces.FolderRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "ListFolders", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagAccount(span, c.Param("accountId"))

		list, err := folders.ListByAccount(ctx, c.Param("accountId"))
		if err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	}
}
