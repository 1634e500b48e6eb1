package backend

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ecofinds/storefront/checkout/domain"
	"github.com/ecofinds/storefront/pkg/apperrors"
)

const IdempotencyKeyHeader = "Idempotency-Key"

// CreatePurchase submits an order. idempotencyKey is sent as the
// Idempotency-Key header so a retried attempt can be de-duplicated.
func (s *SessionClient) CreatePurchase(ctx context.Context, req *domain.OrderRequest, idempotencyKey string) (*domain.Order, error) {
	const op = "create purchase"

	c := call{
		op:     op,
		method: http.MethodPost,
		path:   "/purchases/",
		body:   newCreatePurchaseRequest(req),
	}
	if idempotencyKey != "" {
		c.headers = map[string]string{IdempotencyKeyHeader: idempotencyKey}
	}

	var dto purchaseDTO
	if err := s.do(ctx, c, &dto); err != nil {
		return nil, classifyPurchaseError(err)
	}
	if dto.OrderNumber == "" {
		return nil, apperrors.New(apperrors.ErrUnavailable, op, "response carried no order number")
	}
	return dto.toDomain(), nil
}

// The API rejects a sold or missing product with a plain 400.
func classifyPurchaseError(err error) error {
	appErr, ok := apperrors.As(err)
	if !ok || appErr.Kind != apperrors.ErrRejected {
		return err
	}
	msg := strings.ToLower(appErr.Message)
	if strings.Contains(msg, "not found") || strings.Contains(msg, "already sold") {
		return remap(err, apperrors.ErrRejected, apperrors.ErrProductUnavailable)
	}
	return err
}

func (s *SessionClient) PurchaseHistory(ctx context.Context, f domain.HistoryFilter) (*domain.OrderPage, error) {
	q := url.Values{}
	if f.Page > 0 {
		q.Set("page", strconv.Itoa(f.Page))
	}
	if f.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(f.PageSize))
	}
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	if !f.DateFrom.IsZero() {
		q.Set("date_from", f.DateFrom.Format("2006-01-02"))
	}
	if !f.DateTo.IsZero() {
		q.Set("date_to", f.DateTo.Format("2006-01-02"))
	}

	var dto purchasePageDTO
	if err := s.do(ctx, call{op: "purchase history", method: http.MethodGet, path: "/purchases/history/", query: q}, &dto); err != nil {
		return nil, err
	}
	return dto.toDomain(), nil
}

func (s *SessionClient) Purchase(ctx context.Context, id int64) (*domain.Order, error) {
	var dto purchaseDTO
	path := "/purchases/" + strconv.FormatInt(id, 10) + "/"
	if err := s.do(ctx, call{op: "get purchase", method: http.MethodGet, path: path}, &dto); err != nil {
		return nil, err
	}
	return dto.toDomain(), nil
}
