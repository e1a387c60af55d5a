package utils

import (
	"context"

	"bitbucket.org/mmdatafocus/bridge_backend/appctx"
)

var (
	ContextKeyActorId       = appctx.ContextKeyActorId
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
)

func GetActorIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyActorId)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetActorIdInContext(ctx context.Context, actorId string) context.Context {
	return appctx.Set(ctx, ContextKeyActorId, actorId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}
