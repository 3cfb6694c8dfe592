package log

const (
	KeyAppName            = "app"
	KeyRequestID          = "requestId"
	KeyProcess            = "process"
	KeyTag                = "tag"
	KeyConfig             = "config"
	KeyRequestBody        = "requestBody"
	KeyRequestHeader      = "requestHeader"
	KeyRequestHost        = "host"
	KeyRequestIp          = "requesterIP"
	KeyRequestMethod      = "requestMethod"
	KeyRequestURI         = "requestURI"
	KeyRequestURL         = "requestURL"
	KeyTraceID            = "traceId"
	KeySpanID             = "spanId"
	KeyCartKey            = "cartKey"
	KeyCartLineID         = "cartLineId"
	KeyCartLines          = "cartLines"
	KeyCartItemCount      = "cartItemCount"
	KeyCartSubtotal       = "cartSubtotal"
	KeyCacheKey           = "cacheKey"
	KeyStorageDriver      = "storageDriver"
	KeyNotificationID     = "notificationId"
	KeyNotification       = "notification"
	KeySeverity           = "severity"
	KeyPendingCount       = "pendingCount"
	KeyAttempt            = "attempt"
	KeyDelay              = "delay"
	KeyStatusCode         = "statusCode"
	KeyPaymentMethod      = "paymentMethod"
	KeyPaymentStatus      = "paymentStatus"
	KeyPaymentStatusFrom  = "paymentStatusFrom"
	KeyReferenceCode      = "referenceCode"
	KeyAmount             = "amount"
	KeyAmountDue          = "amountDue"
	KeyCurrency           = "currency"
	KeyExchangeRate       = "exchangeRate"
	KeyRemaining          = "remaining"
	KeyGeneration         = "generation"
	KeyGatewayURL         = "gatewayURL"
	KeyTopic              = "topic"
	KeyDbURL              = "dbURL"
	KeyRequestProcessedAt = "requestProcessedAt"
)
