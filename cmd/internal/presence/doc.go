// Package presence tracks which identities hold a live websocket connection
// and pushes the online set to every connected client.
//
// Registry is the single source of truth. Each successful mutation computes
// the full online set, stamps it with a revision and enqueues it to every
// registered connection while still holding the registry lock, so all
// connections observe mutations in the same order. Delivery is per
// connection: a full queue closes that connection only.
//
// Gateway is the /ws endpoint. It authenticates before the upgrade and
// keeps each connection bound to a live session for its whole lifetime.
package presence
