package worker

import (
	"context"
	"log"

	"marketplace/internal/broker"
	"marketplace/internal/models"
	"marketplace/internal/service"
)

// CacheWorker consumes OrderCompleted events and warms the completion
// cache, so status polls arriving after a webhook settlement skip the
// gateway round-trip even when another instance handled the webhook.
type CacheWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	cache        service.CompletionCache
}

// NewCacheWorker creates a cache-warming worker
func NewCacheWorker(consumer *broker.Consumer, cache service.CompletionCache) *CacheWorker {
	eventHandler := broker.NewEventHandler()

	w := &CacheWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		cache:        cache,
	}
	eventHandler.OnOrderCompleted(w.handleOrderCompleted)

	return w
}

func (w *CacheWorker) handleOrderCompleted(ctx context.Context, event *models.OrderCompletedEvent) error {
	if event.InvoiceID == "" {
		return nil
	}
	if err := w.cache.MarkCompleted(ctx, event.InvoiceID); err != nil {
		// Cache warming is best effort; the poll path falls back to the
		// gateway and the database claim stays authoritative.
		log.Printf("Failed to warm completion cache for invoice %s: %v", event.InvoiceID, err)
	}
	return nil
}

// Start starts the worker
func (w *CacheWorker) Start(ctx context.Context) error {
	log.Println("Starting cache worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *CacheWorker) Stop() error {
	log.Println("Stopping cache worker...")
	return w.consumer.Close()
}
