/*
Package event provides the pub/sub event system that connects the review
service to the HTTP and MCP surfaces.

# Event Types

Review Events:
  - review.opened: a review session opened its surface
  - review.updated: streamed content advanced
  - review.finalized: the final content was applied
  - review.approved: changes were saved; carries the save result
  - review.rejected: changes were reverted
  - review.closed: the review's surface was closed outside diffview

Surface Events:
  - surface.changed: a surface was edited, saved, decorated, scrolled or closed

File Events:
  - file.edited: a file under review was written to disk
  - file.removed: a file under review was removed outside diffview

# Basic Usage

	bus := event.Default()
	bus.Publish(event.Event{
		Type: event.ReviewOpened,
		Data: event.ReviewData{Info: review},
	})

	unsubscribe := bus.Subscribe(event.ReviewApproved, func(e event.Event) {
		data := e.Data.(event.ReviewApprovedData)
		log.Info().Str("review", data.Info.ID).Msg("approved")
	})
	defer unsubscribe()

Publish runs each subscriber in its own goroutine. PublishSync runs them in
registration order before returning.

# Subscriber Safety Guidelines

With PublishSync, subscribers run in the publisher's goroutine. They must
finish quickly, must not publish re-entrantly, and must not take locks the
publisher may hold.

# Watermill Stream

Every event is also marshaled to JSON and published on the watermill topic
Topic, with the event type in the MetadataType metadata key. Bus.Stream
returns a channel of those messages; the SSE endpoint consumes it. Each
message must be acked before the next is delivered.

	messages, err := bus.Stream(ctx)
	for msg := range messages {
		write(msg.Payload)
		msg.Ack()
	}

# Testing

Tests create their own bus and close it when done:

	bus := event.NewBus()
	defer bus.Close()
*/
package event
