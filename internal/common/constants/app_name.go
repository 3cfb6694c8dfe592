package constants

const (
	AppStorefront          = "storefront"
	AppCartStore           = "cart-store"
	AppNotificationQueue   = "notification-queue"
	AppCheckoutSession     = "checkout-session"
	AppSettlementPublisher = "settlement-publisher"
)
