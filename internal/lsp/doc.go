// Package lsp provides the Language Server Protocol plumbing used by lintls.
//
// It covers the server side of the protocol only: message framing, the
// JSON-RPC connection, the protocol types the server exchanges with editors,
// position conversion and the live document store.
//
// # Architecture
//
//   - Stream: reads and writes whole messages. HeaderStream implements the
//     Content-Length framing used over stdio; WebSocketStream carries one
//     message per websocket frame.
//   - Conn: JSON-RPC 2.0 on top of a Stream. Incoming requests and
//     notifications go to a MessageHandler; the server can also call the
//     client (workspace/applyEdit) and wait for the answer.
//   - DocumentStore: open documents, their content and client-assigned
//     versions. Version lookups are what the dispatch queue uses to detect
//     stale work.
//   - PositionConverter: byte and rune offsets to and from LSP positions,
//     measured in UTF-16 code units.
//
// # Quick Start
//
//	stream := lsp.NewHeaderStream(os.Stdin, os.Stdout, nil)
//	conn := lsp.NewConn(stream)
//	defer conn.Close()
//
//	if err := conn.Serve(ctx, handler); err != nil {
//	    log.Fatal(err)
//	}
//
// # Thread Safety
//
// Conn and DocumentStore are safe for concurrent use. Serve delivers messages
// from a single goroutine in arrival order.
package lsp
