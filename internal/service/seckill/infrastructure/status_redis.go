// internal/service/seckill/infrastructure/status_redis.go
package infrastructure

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	pkgredis "flashmart/internal/pkg/redis"
	"flashmart/internal/service/seckill/domain/port"
)

const (
	requestKeyPrefix = "seckill:request:"
	requestStatusTTL = 10 * time.Minute
)

// RequestStatusRedisStore 实现 port.RequestStatusStore。
// 状态只服务于客户端轮询，带 TTL 自然过期，不做持久化。
type RequestStatusRedisStore struct {
	client *pkgredis.Client
}

func NewRequestStatusRedisStore(client *pkgredis.Client) *RequestStatusRedisStore {
	return &RequestStatusRedisStore{client: client}
}

func (s *RequestStatusRedisStore) Init(ctx context.Context, requestID, userID string) error {
	return s.write(ctx, requestID, &port.RequestStatus{
		Status:  port.RequestProcessing,
		Message: "Your order is being processed.",
		UserID:  userID,
	})
}

func (s *RequestStatusRedisStore) MarkSuccess(ctx context.Context, requestID, orderID string) error {
	status, err := s.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if status == nil {
		status = &port.RequestStatus{}
	}
	status.Status = port.RequestSuccess
	status.Message = "Order created."
	status.OrderID = orderID
	return s.write(ctx, requestID, status)
}

func (s *RequestStatusRedisStore) MarkFailed(ctx context.Context, requestID, reason string) error {
	status, err := s.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if status == nil {
		status = &port.RequestStatus{}
	}
	status.Status = port.RequestFailed
	status.Message = reason
	return s.write(ctx, requestID, status)
}

func (s *RequestStatusRedisStore) Get(ctx context.Context, requestID string) (*port.RequestStatus, error) {
	raw, err := s.client.GetClient().Get(ctx, requestKeyPrefix+requestID).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read request status")
	}
	var status port.RequestStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, errors.Wrap(err, "decode request status")
	}
	return &status, nil
}

func (s *RequestStatusRedisStore) write(ctx context.Context, requestID string, status *port.RequestStatus) error {
	raw, err := json.Marshal(status)
	if err != nil {
		return errors.Wrap(err, "encode request status")
	}
	return errors.Wrap(
		s.client.GetClient().Set(ctx, requestKeyPrefix+requestID, raw, requestStatusTTL).Err(),
		"write request status")
}
