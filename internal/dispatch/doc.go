// Package dispatch orders the work a language server does on behalf of its
// client.
//
// Requests and notifications are appended to a Queue in arrival order and
// drained one per tick on a single-goroutine Loop. Each message carries the
// version its document had when it was enqueued. When the message reaches
// the head of the queue the registered VersionLens reports the live version;
// if the two differ the message is superseded. Superseded requests are
// rejected with ErrRequestCancelled and superseded notifications are dropped.
//
// Handlers return a Future. Synchronous handlers return an already settled
// one; handlers doing slow work use Go, which runs the work on its own
// goroutine and settles the future back on the loop. The queue does not wait
// for such handlers before draining the next message.
//
// # Usage
//
//	loop := dispatch.NewLoop()
//	reg := dispatch.NewRegistry()
//	reg.RegisterRequest("textDocument/formatting", handler, lens)
//
//	q := dispatch.NewQueue(reg, loop)
//	go loop.Run(ctx)
//
//	loop.Post(func() {
//	    q.EnqueueRequestCurrent(ctx, "textDocument/formatting", params).Then(reply)
//	})
package dispatch
