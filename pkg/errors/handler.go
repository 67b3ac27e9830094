package errors

import (
	"go.uber.org/zap"
)

// LogError logs a domain error with structured fields, choosing a level
// from its severity instead of always logging at Error.
func LogError(logger *zap.Logger, operation string, err error) {
	if err == nil {
		return
	}

	if domainErr, ok := err.(*DomainError); ok {
		fields := []zap.Field{
			zap.String("operation", operation),
			zap.String("error_type", string(domainErr.Type)),
			zap.String("error_code", domainErr.Code),
			zap.Bool("retryable", domainErr.Retryable),
		}
		if domainErr.Cause != nil {
			fields = append(fields, zap.Error(domainErr.Cause))
		}
		if len(domainErr.Details) > 0 {
			fields = append(fields, zap.Any("details", domainErr.Details))
		}

		switch domainErr.Type {
		case DomainCorruptionError, DomainInfrastructureError:
			logger.Error(domainErr.Message, fields...)
		case DomainNotFoundError:
			logger.Info(domainErr.Message, fields...)
		default:
			logger.Warn(domainErr.Message, fields...)
		}
		return
	}

	logger.Error("unhandled error",
		zap.String("operation", operation),
		zap.Error(err),
	)
}
