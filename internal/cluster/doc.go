// Package cluster carries shard-metadata traffic between nodes.
//
// # Overview
//
// Nodes are peers. Each one serves its own shard table and forwards
// requests for SUPERNODE metadata to whichever node the registry says
// stores it. Every exchange is a Message: requests (create, get, put,
// delete) are answered by a return carrying the same id in InReplyTo, and
// changed is a one-way notice that a record was updated.
//
// # Architecture
//
//	┌──────────┐   POST /msg (JSON Message)   ┌──────────┐
//	│  node 1  │ ───────────────────────────▶ │  node 2  │
//	│          │ ◀─────────────────────────── │          │
//	└──────────┘        return / changed      └──────────┘
//
// # Core Components
//
// Transport: fire-and-forget delivery. Lost messages are not reported;
// the sender's remote-operation timer turns them into TIMEOUT.
//
// HTTPTransport: posts each message from its own goroutine with a per-send
// timeout. Peers are addressed by their advertised base URL.
//
// LocalNetwork: an in-process Transport for tests, with partitioning.
//
// MessageHandler: the /msg endpoint. It rate-limits with
// golang.org/x/time/rate and rejects malformed envelopes before they reach
// the coordinator.
//
// ShardMetaDoc and ShardResponse: the JSON forms used by the HTTP API, with
// HTTPStatus mapping metadata statuses onto response codes.
//
// # Wire Format
//
// The record inside a Message is the binary codec from package meta, so a
// JSON envelope carries it base64-encoded. A return's LeaseUsecs is the
// lease time left on the sender's clock; the receiver adds it to its own
// clock, so the two clocks never need to agree.
package cluster
