package api

import (
	"context"
	"net/http"
	"time"

	"mediagen/internal/entity"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func (h *HTTPHandler) GetCredits(c *gin.Context) {
	requestUser := CurrentUser(c)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	balance, err := h.ledger.Balance(ctx, requestUser.UUID)
	if err != nil {
		logrus.WithError(err).WithField("user_uuid", requestUser.UUID).Error("credits_balance_failed")
		InternalError(c, "failed to load credits")
		return
	}
	c.JSON(http.StatusOK, entity.CreditBalanceResponse{
		UserUUID: requestUser.UUID,
		Credits:  balance,
	})
}

func (h *HTTPHandler) ListCreditTransactions(c *gin.Context) {
	requestUser := CurrentUser(c)

	var query entity.CreditTransactionQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		BadRequest(c, ErrCodeInvalidRequest, "invalid query parameters")
		return
	}
	query.Normalize()
	query.UserUUID = requestUser.UUID

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	rows, meta, err := h.ledger.ListTransactions(ctx, &query)
	if err != nil {
		logrus.WithError(err).WithField("user_uuid", requestUser.UUID).Error("list_credit_transactions_failed")
		InternalError(c, "failed to load credit transactions")
		return
	}
	c.JSON(http.StatusOK, entity.CreditTransactionListResponse{
		Transactions: rows,
		Meta:         meta,
	})
}
