// internal/service/seckill/application/activity_admin.go
package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"flashmart/internal/pkg/logger"
	"flashmart/internal/service/seckill/domain"
)

// ActivityService 承接运营侧的活动管理：创建、查询、手动预热。
// 状态流转仍归调度器，这里只提供 Preload 作为手动触发入口。
type ActivityService struct {
	activities domain.ActivityRepository
	scheduler  *Scheduler
	tracer     trace.Tracer
}

func NewActivityService(activities domain.ActivityRepository, scheduler *Scheduler, tracer trace.Tracer) *ActivityService {
	return &ActivityService{activities: activities, scheduler: scheduler, tracer: tracer}
}

// CreateActivity 创建一个新的秒杀活动，初始状态为 SCHEDULED。
func (s *ActivityService) CreateActivity(ctx context.Context, req *CreateActivityRequest) (*ActivityResponse, error) {
	ctx, span := s.tracer.Start(ctx, "app.CreateActivity",
		trace.WithAttributes(attribute.String("sku.id", req.SKUID)))
	defer span.End()

	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		return nil, ErrInvalidTimeFormat
	}
	end, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		return nil, ErrInvalidTimeFormat
	}

	activity, err := domain.NewActivity(uuid.New().String(), req.Name, req.SKUID, start, end, req.WarmQuantity, req.PurchaseLimit)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := s.activities.Create(ctx, activity); err != nil {
		span.RecordError(err)
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Str("activity_id", activity.ID).Str("sku_id", activity.SKUID).
		Time("start_time", activity.StartTime).
		Msg("Activity created")
	return toActivityResponse(activity), nil
}

// GetActivity 按 ID 查询活动。
func (s *ActivityService) GetActivity(ctx context.Context, id string) (*ActivityResponse, error) {
	activity, err := s.activities.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return toActivityResponse(activity), nil
}

// ListPending 返回所有未结束的活动，给运营后台用。
func (s *ActivityService) ListPending(ctx context.Context) ([]*ActivityResponse, error) {
	acts, err := s.activities.FindByStates(ctx, domain.ActivityScheduled, domain.ActivityWarmedUp, domain.ActivityActive)
	if err != nil {
		return nil, err
	}
	out := make([]*ActivityResponse, 0, len(acts))
	for _, a := range acts {
		out = append(out, toActivityResponse(a))
	}
	return out, nil
}

// Preload 手动触发预热，不等调度器的预热时间点。
// 复用调度器的加锁预热逻辑，重复触发是空操作。
func (s *ActivityService) Preload(ctx context.Context, activityID string) (*ActivityResponse, error) {
	activity, err := s.activities.FindByID(ctx, activityID)
	if err != nil {
		return nil, err
	}
	if err := s.scheduler.WarmUp(ctx, activity); err != nil {
		return nil, err
	}
	return toActivityResponse(activity), nil
}
