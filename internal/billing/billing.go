package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mediagen/internal/credit"
	"mediagen/internal/entity"
	"mediagen/internal/model"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 支付通知事件类型
const (
	EventCheckoutCompleted    = "checkout.completed"
	EventSubscriptionRenewed  = "subscription.renewed"
	EventSubscriptionCanceled = "subscription.canceled"
)

// 一次性购买的积分有效期
const oneTimeValidity = 365 * 24 * time.Hour

var (
	ErrProductNotFound    = errors.New("product not found")
	ErrOrderNotFound      = errors.New("order not found")
	ErrInvalidSignature   = errors.New("invalid notify signature")
	ErrUnsupportedEvent   = errors.New("unsupported notify event")
	ErrUnsupportedGateway = errors.New("unsupported payment gateway")
	ErrInvalidPayload     = errors.New("invalid notify payload")
)

// NotifyResult 支付通知处理结果
type NotifyResult struct {
	Event   string `json:"event"`
	OrderNo string `json:"order_no"`
	Granted int64  `json:"granted"`
	// Duplicate 订单已处理过，没有重复发放积分
	Duplicate bool `json:"duplicate"`
}

// Service 订单与支付回调
type Service struct {
	repo   model.Repository
	ledger *credit.Ledger
	secret string
	now    func() time.Time
}

func NewService(repo model.Repository, ledger *credit.Ledger, notifySecret string) *Service {
	return &Service{
		repo:   repo,
		ledger: ledger,
		secret: strings.TrimSpace(notifySecret),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrder 创建待支付订单
func (s *Service) CreateOrder(ctx context.Context, userUUID, productID, gateway string) (*entity.DbOrder, error) {
	product, ok := FindProduct(productID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	gateway = strings.ToLower(strings.TrimSpace(gateway))
	if gateway == "" {
		gateway = entity.GatewayStripe
	}
	if !validGateway(gateway) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedGateway, gateway)
	}

	order := &entity.DbOrder{
		OrderNo:   "ord_" + credit.NewTransNo(),
		UserUUID:  userUUID,
		ProductID: product.ID,
		Interval:  product.Interval,
		Amount:    product.Amount,
		Currency:  product.Currency,
		Credits:   product.Credits,
		Status:    entity.OrderStatusCreated,
		Gateway:   gateway,
	}
	if err := s.repo.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"order_no":   order.OrderNo,
		"user_uuid":  userUUID,
		"product_id": product.ID,
		"gateway":    gateway,
	}).Info("order_created")
	return order, nil
}

// HandleNotify 校验签名后按事件类型处理。同一订单只发放一次积分。
func (s *Service) HandleNotify(ctx context.Context, gateway string, body []byte, signature string) (*NotifyResult, error) {
	gateway = strings.ToLower(strings.TrimSpace(gateway))
	if !validGateway(gateway) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedGateway, gateway)
	}
	if !VerifySignature(body, signature, s.secret) {
		logrus.WithField("gateway", gateway).Warn("pay_notify_bad_signature")
		return nil, ErrInvalidSignature
	}
	if !gjson.ValidBytes(body) {
		return nil, ErrInvalidPayload
	}

	root := gjson.ParseBytes(body)
	event := root.Get("type").String()
	data := root.Get("data")
	logger := logrus.WithFields(logrus.Fields{
		"gateway": gateway,
		"event":   event,
	})

	var (
		result *NotifyResult
		err    error
	)
	switch event {
	case EventCheckoutCompleted:
		result, err = s.checkoutCompleted(ctx, data, body)
	case EventSubscriptionRenewed:
		result, err = s.subscriptionRenewed(ctx, gateway, data, body)
	case EventSubscriptionCanceled:
		result, err = s.subscriptionCanceled(ctx, data)
	default:
		logger.Warn("pay_notify_unsupported_event")
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEvent, event)
	}
	if err != nil {
		logger.WithError(err).Error("pay_notify_failed")
		return nil, err
	}
	result.Event = event

	logger.WithFields(logrus.Fields{
		"order_no":  result.OrderNo,
		"granted":   result.Granted,
		"duplicate": result.Duplicate,
	}).Info("pay_notify_handled")
	return result, nil
}

// checkoutCompleted {"type":"checkout.completed","data":{"order_no":"..","sub_id":".."}}
func (s *Service) checkoutCompleted(ctx context.Context, data gjson.Result, body []byte) (*NotifyResult, error) {
	orderNo := strings.TrimSpace(data.Get("order_no").String())
	if orderNo == "" {
		return nil, fmt.Errorf("%w: missing data.order_no", ErrInvalidPayload)
	}
	result := &NotifyResult{OrderNo: orderNo}

	err := s.repo.WithTransaction(ctx, func(txCtx context.Context) error {
		order, err := s.repo.GetOrderByNo(txCtx, orderNo)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrOrderNotFound, orderNo)
			}
			return err
		}
		if order.Status == entity.OrderStatusPaid {
			result.Duplicate = true
			return nil
		}

		paidAt := s.now()
		expiredAt := s.periodEnd(order.Interval, paidAt)
		status := entity.OrderStatusPaid
		detail := datatypes.JSON(body)
		updates := entity.OrderUpdates{
			Status:     &status,
			PaidAt:     &paidAt,
			ExpiredAt:  &expiredAt,
			PaidDetail: &detail,
		}
		if subID := strings.TrimSpace(data.Get("sub_id").String()); subID != "" {
			updates.SubID = &subID
		}
		// 并发通知只有一个能把 created 改成 paid
		applied, err := s.repo.TransitionOrder(txCtx, orderNo, order.Status, updates)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		if !applied {
			result.Duplicate = true
			return nil
		}

		if _, err := s.ledger.Increase(txCtx, credit.Grant{
			UserUUID:  order.UserUUID,
			TransType: entity.CreditTransOrderPay,
			Credits:   order.Credits,
			OrderNo:   order.OrderNo,
			ExpiredAt: &expiredAt,
		}); err != nil {
			return err
		}
		result.Granted = order.Credits
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// subscriptionRenewed 每个续费周期生成一个新订单 renew_<invoice_id>
func (s *Service) subscriptionRenewed(ctx context.Context, gateway string, data gjson.Result, body []byte) (*NotifyResult, error) {
	subID := strings.TrimSpace(data.Get("sub_id").String())
	invoiceID := strings.TrimSpace(data.Get("invoice_id").String())
	if subID == "" || invoiceID == "" {
		return nil, fmt.Errorf("%w: missing data.sub_id or data.invoice_id", ErrInvalidPayload)
	}
	orderNo := "renew_" + invoiceID
	result := &NotifyResult{OrderNo: orderNo}

	err := s.repo.WithTransaction(ctx, func(txCtx context.Context) error {
		if _, err := s.repo.GetOrderByNo(txCtx, orderNo); err == nil {
			result.Duplicate = true
			return nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		parent, err := s.repo.GetLatestOrderBySubID(txCtx, subID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: subscription %s", ErrOrderNotFound, subID)
			}
			return err
		}

		paidAt := s.now()
		expiredAt := s.periodEnd(parent.Interval, paidAt)
		order := &entity.DbOrder{
			OrderNo:    orderNo,
			UserUUID:   parent.UserUUID,
			ProductID:  parent.ProductID,
			Interval:   parent.Interval,
			Amount:     parent.Amount,
			Currency:   parent.Currency,
			Credits:    parent.Credits,
			Status:     entity.OrderStatusPaid,
			Gateway:    gateway,
			SubID:      subID,
			PaidAt:     &paidAt,
			ExpiredAt:  &expiredAt,
			PaidDetail: datatypes.JSON(body),
		}
		if err := s.repo.CreateOrder(txCtx, order); err != nil {
			return fmt.Errorf("create renewal order: %w", err)
		}
		if _, err := s.ledger.Increase(txCtx, credit.Grant{
			UserUUID:  order.UserUUID,
			TransType: entity.CreditTransOrderPay,
			Credits:   order.Credits,
			OrderNo:   order.OrderNo,
			ExpiredAt: &expiredAt,
		}); err != nil {
			return err
		}
		result.Granted = order.Credits
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// subscriptionCanceled 只改订单状态，已发放的积分到期前仍然可用
func (s *Service) subscriptionCanceled(ctx context.Context, data gjson.Result) (*NotifyResult, error) {
	subID := strings.TrimSpace(data.Get("sub_id").String())
	if subID == "" {
		return nil, fmt.Errorf("%w: missing data.sub_id", ErrInvalidPayload)
	}
	order, err := s.repo.GetLatestOrderBySubID(ctx, subID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: subscription %s", ErrOrderNotFound, subID)
		}
		return nil, err
	}
	result := &NotifyResult{OrderNo: order.OrderNo}
	if order.Status == entity.OrderStatusCanceled {
		result.Duplicate = true
		return result, nil
	}
	status := entity.OrderStatusCanceled
	if err := s.repo.UpdateOrder(ctx, order.OrderNo, entity.OrderUpdates{Status: &status}); err != nil {
		return nil, fmt.Errorf("cancel order: %w", err)
	}
	return result, nil
}

func (s *Service) periodEnd(interval string, from time.Time) time.Time {
	switch interval {
	case entity.OrderIntervalMonth:
		return from.AddDate(0, 1, 0)
	case entity.OrderIntervalYear:
		return from.AddDate(1, 0, 0)
	default:
		return from.Add(oneTimeValidity)
	}
}

func validGateway(gateway string) bool {
	switch gateway {
	case entity.GatewayStripe, entity.GatewayCreem, entity.GatewayManual:
		return true
	default:
		return false
	}
}
