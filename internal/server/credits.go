package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	ledgerdomain "github.com/reviewloop/reviewloop/internal/ledger/domain"
)

type applyCreditsRequest struct {
	Amount          int64  `json:"amount"`
	CreditType      string `json:"credit_type"`
	TransactionType string `json:"transaction_type"`
	IdempotencyKey  string `json:"idempotency_key"`
	Description     string `json:"description"`
	Actor           string `json:"actor"`
}

func (s *Server) GetCredits(c *gin.Context) {
	id, ok := parseAccountID(c)
	if !ok {
		return
	}

	// Existence check so a bad ID reads as 404, not an empty balance.
	if _, err := s.accountSvc.GetByID(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	balance, err := s.ledgerSvc.GetBalance(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"balance": balance,
		"total":   balance.Total(),
	})
}

func (s *Server) ApplyCredits(c *gin.Context) {
	id, ok := parseAccountID(c)
	if !ok {
		return
	}

	var req applyCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if _, err := s.accountSvc.GetByID(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.ledgerSvc.Apply(c.Request.Context(), ledgerdomain.ApplyRequest{
		AccountID:       id,
		Amount:          req.Amount,
		CreditType:      ledgerdomain.CreditType(req.CreditType),
		TransactionType: ledgerdomain.TransactionType(req.TransactionType),
		IdempotencyKey:  req.IdempotencyKey,
		Description:     req.Description,
		Actor:           req.Actor,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

func (s *Server) RebuildCredits(c *gin.Context) {
	id, ok := parseAccountID(c)
	if !ok {
		return
	}

	if _, err := s.accountSvc.GetByID(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	balance, err := s.ledgerSvc.RebuildBalance(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"balance": balance,
		"total":   balance.Total(),
	})
}

func (s *Server) AuditCredits(c *gin.Context) {
	id, ok := parseAccountID(c)
	if !ok {
		return
	}

	if _, err := s.accountSvc.GetByID(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	audit, err := s.ledgerSvc.AuditBalance(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, audit)
}
