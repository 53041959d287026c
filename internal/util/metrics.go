package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	InvoicesCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "invoices_created_total",
		Help: "Total number of gateway invoices created",
	})

	ReconcileClaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_claims_total",
		Help: "Completion claim attempts by outcome (won, lost, noop)",
	}, []string{"outcome"})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of orders cancelled by gateway signal",
	})

	SettlementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "settlement_latency_seconds",
		Help:    "Latency of winning settlement transactions",
		Buckets: prometheus.DefBuckets,
	})

	TokensIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "download_tokens_issued_total",
		Help: "Total number of download tokens issued",
	})

	TokensRedeemedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "download_tokens_redeemed_total",
		Help: "Token redemption attempts by result",
	}, []string{"result"})

	WalletPurchasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_purchases_total",
		Help: "Wallet purchase attempts by outcome",
	}, []string{"outcome"})

	WithdrawalRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "withdrawal_requests_total",
		Help: "Withdrawal request creations by outcome",
	}, []string{"outcome"})

	WithdrawalApprovalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "withdrawal_approvals_total",
		Help: "Withdrawal approval attempts by outcome",
	}, []string{"outcome"})

	WebhooksReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhooks_received_total",
		Help: "Gateway webhook deliveries by reported status",
	}, []string{"status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
