// Package eventbus delivers equipment events to subscribers.
//
// A Bus is constructed explicitly and passed to the components that publish
// or subscribe; there is no global instance. Subscriptions match event tags
// hierarchically: a subscriber to "Equipment.Event.Transaction" receives
// "Equipment.Event.Transaction.Committed".
//
// Matching subscribers run in priority order (Critical first, then in
// subscription order). Each subscription picks an execution context:
//
//   - Immediate handlers run inline inside Publish.
//   - NextFrame handlers are queued and run by the next Flush, which the
//     server calls once per tick.
//   - Background handlers run on the bus worker goroutine, in publish order.
//
// Handlers that panic are recovered and counted; one misbehaving subscriber
// cannot stop delivery to the rest.
package eventbus
