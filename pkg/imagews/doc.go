// Package imagews adapts the provider's realtime image websocket into
// a finite sequence of classified frames. One session sends a single
// create message and then reads until a termination heuristic fires:
// the requested number of finals arrived, the generation looks blocked,
// the stream went idle after progress, or the hard timeout elapsed.
//
// The listen loop is an explicit state machine over an injected
// connection so the heuristics are testable without real sockets.
package imagews
