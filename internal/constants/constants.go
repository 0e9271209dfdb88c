package constants

// 缴费状态常量
const (
	PaymentStatusPending   = "PENDING"
	PaymentStatusPaid      = "PAID"
	PaymentStatusCancelled = "CANCELLED"
)

// 支付渠道常量（payment_method 前缀）
const (
	PaymentChannelMercadoPago = "mercadopago"
	PaymentChannelStripe      = "stripe"
	PaymentChannelPaypal      = "paypal"
	PaymentChannelWallet      = "wallet"
)

// 支付方式标签常量
const (
	PaymentMethodLabelPending = "pending"
	PaymentMethodSeparator    = ":"
)

// 网关回调事件类型常量
const (
	GatewayEventTypePayment = "payment"
)

// 网关事件来源常量
const (
	GatewayEventSourceWebhook = "webhook"
	GatewayEventSourcePoll    = "poll"
	GatewayEventSourceWallet  = "wallet"
	GatewayEventSourceSweep   = "sweep"
)

// 网关事件处理结果常量
const (
	GatewayEventResultApplied   = "applied"
	GatewayEventResultUnchanged = "unchanged"
	GatewayEventResultIgnored   = "ignored"
	GatewayEventResultNotFound  = "not_found"
	GatewayEventResultFailed    = "failed"
	GatewayEventResultQueued    = "queued"
	GatewayEventResultDuplicate = "duplicate"
	GatewayEventResultRejected  = "rejected"
)

// 学校角色常量
const (
	RoleSchoolAdmin = "school_admin"
	RoleFinance     = "finance"
	RoleGuardian    = "guardian"
	RoleStudent     = "student"
)

// 缴费操作常量
const (
	PaymentActionCheckout   = "payment:checkout"
	PaymentActionPoll       = "payment:poll"
	PaymentActionWallet     = "payment:wallet"
	PaymentActionView       = "payment:view"
	PaymentActionList       = "payment:list"
	PaymentActionViewEvents = "payment:events"
	AuthzActionView         = "authz:view"
)

// 队列常量
const (
	QueueDefault                = "default"
	QueueCritical               = "critical"
	TaskPaymentWebhookReconcile = "payment:webhook_reconcile"
	TaskPaymentPoll             = "payment:poll"
)

// 缓存默认配置常量
const (
	RedisPrefixDefault = "sge"
)

// 币种常量
const (
	CurrencyDefault = "PEN"
)

// 移动钱包默认渠道名
const (
	WalletChannelDefault = "yape"
)

// 语言常量
const (
	LocaleEs = "es"
	LocaleEn = "en"
)

// 支持的语言顺序（含回退顺序）
var SupportedLocales = []string{LocaleEs, LocaleEn}
