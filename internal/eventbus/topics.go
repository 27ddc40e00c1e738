package eventbus

// Published topics. Payloads are flat string maps.
const (
	TopicTradeCompleted         = "trade.completed"
	TopicTradeFailed            = "trade.failed"
	TopicTradeBlocked           = "trade.blocked"
	TopicTradeSettled           = "trade.settled"
	TopicTradeSettlementTimeout = "trade.settlement_timeout"
	TopicTradePartialFollowup   = "trade.partial_followup"

	TopicBudgetExceeded = "budget.exceeded"

	TopicOrchestratorPaused      = "orchestrator.paused"
	TopicOrchestratorResumed     = "orchestrator.resumed"
	TopicOrchestratorAutoPaused  = "orchestrator.auto_paused"
	TopicOrchestratorAutoResumed = "orchestrator.auto_resumed"

	TopicBalancesUpdated         = "balances.updated"
	TopicReconciliationCompleted = "reconciliation.completed"
	TopicWatchdogHeartbeat       = "watchdog.heartbeat"

	TopicDMSTriggered         = "dms.triggered"
	TopicDMSSkipped           = "dms.skipped"
	TopicInstanceLockAcquired = "instance.lock.acquired"
	TopicInstanceLockFailed   = "instance.lock.failed"

	// TopicDLQ is the topic of events handed to dead-letter subscribers.
	TopicDLQ = "__dlq__"
)
