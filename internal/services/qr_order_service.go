package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"
)

const qrOrderTTL = 5 * time.Minute

// QROrderService backs the guest-facing ordering flow: it prices an
// order through the fee calculator (QR rate) and issues a short-lived
// QR payment request the guest scans to pay.
type QROrderService struct {
	redis     *redis.Client
	feeConfig *FeeConfigService
}

func NewQROrderService(redisClient *redis.Client, feeConfig *FeeConfigService) *QROrderService {
	return &QROrderService{
		redis:     redisClient,
		feeConfig: feeConfig,
	}
}

// QROrder is the payload encoded into a QR payment request.
type QROrder struct {
	TenantID   string `json:"tenant_id"`
	LocationID string `json:"location_id"`
	Amount     int64  `json:"amount"`
	Fee        int64  `json:"fee"`
	Total      int64  `json:"total"`
	Nonce      string `json:"nonce"`
	Timestamp  int64  `json:"timestamp"`
}

// GenerateOrderQR prices the order and returns the opaque code plus a
// base64 PNG rendering of it.
func (s *QROrderService) GenerateOrderQR(ctx context.Context, tenantID, locationID string, amount int64) (string, string, *QROrder, error) {
	cfg, err := s.feeConfig.Get(tenantID)
	if err != nil {
		return "", "", nil, err
	}

	result, err := CalculateFee(amount, cfg, FeeContextQR)
	if err != nil {
		return "", "", nil, err
	}

	order := &QROrder{
		TenantID:   tenantID,
		LocationID: locationID,
		Amount:     amount,
		Fee:        result.Fee,
		Total:      result.Total,
		Nonce:      s.generateNonce(),
		Timestamp:  time.Now().Unix(),
	}

	jsonData, err := json.Marshal(order)
	if err != nil {
		return "", "", nil, err
	}

	code := base64.URLEncoding.EncodeToString(jsonData)

	key := fmt.Sprintf("qr_order:%s", code)
	if err := s.redis.Set(ctx, key, jsonData, qrOrderTTL).Err(); err != nil {
		return "", "", nil, err
	}

	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return "", "", nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", nil, err
	}

	qrImage := base64.StdEncoding.EncodeToString(buf.Bytes())
	return code, qrImage, order, nil
}

// ResolveOrderQR looks up an issued QR payment request. Expired or
// unknown codes are rejected.
func (s *QROrderService) ResolveOrderQR(ctx context.Context, code string) (*QROrder, error) {
	key := fmt.Sprintf("qr_order:%s", code)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("invalid or expired QR code")
	}
	if err != nil {
		return nil, err
	}

	var order QROrder
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *QROrderService) generateNonce() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}
