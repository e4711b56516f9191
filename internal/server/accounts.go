package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	accountdomain "github.com/reviewloop/reviewloop/internal/account/domain"
	"github.com/reviewloop/reviewloop/internal/catalog"
)

type createAccountRequest struct {
	Name          string `json:"name"`
	IsFreeAccount bool   `json:"is_free_account"`
}

type accountResponse struct {
	ID                     string                           `json:"id"`
	Name                   string                           `json:"name"`
	Plan                   catalog.PlanKey                  `json:"plan"`
	BillingPeriod          catalog.BillingPeriod            `json:"billing_period"`
	SubscriptionStatus     accountdomain.SubscriptionStatus `json:"subscription_status"`
	ExternalCustomerID     *string                          `json:"external_customer_id,omitempty"`
	ExternalSubscriptionID *string                          `json:"external_subscription_id,omitempty"`
	IsFreeAccount          bool                             `json:"is_free_account"`
	HasHadPaidPlan         bool                             `json:"has_had_paid_plan"`
	Limits                 catalog.Limits                   `json:"limits"`
}

func accountResponseOf(account *accountdomain.Account) accountResponse {
	return accountResponse{
		ID:                     account.ID.String(),
		Name:                   account.Name,
		Plan:                   account.Plan,
		BillingPeriod:          account.BillingPeriod,
		SubscriptionStatus:     account.SubscriptionStatus,
		ExternalCustomerID:     account.ExternalCustomerID,
		ExternalSubscriptionID: account.ExternalSubscriptionID,
		IsFreeAccount:          account.IsFreeAccount,
		HasHadPaidPlan:         account.HasHadPaidPlan,
		Limits:                 catalog.LimitsFor(account.Plan),
	}
}

func (s *Server) CreateAccount(c *gin.Context) {
	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		AbortWithError(c, newValidationError("name", "invalid_name", "name is required"))
		return
	}

	account, err := s.accountSvc.Create(c.Request.Context(), accountdomain.CreateAccountRequest{
		Name:          strings.TrimSpace(req.Name),
		IsFreeAccount: req.IsFreeAccount,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, accountResponseOf(account))
}

func (s *Server) GetAccount(c *gin.Context) {
	id, ok := parseAccountID(c)
	if !ok {
		return
	}

	account, err := s.accountSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, accountResponseOf(account))
}

// SyncAccount pulls the live subscription from the payment platform and
// reconciles stored billing fields against it.
func (s *Server) SyncAccount(c *gin.Context) {
	id, ok := parseAccountID(c)
	if !ok {
		return
	}

	result, err := s.syncSvc.SyncAccount(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
