package bus

// Mirror event topics. The transport manager is the only publisher; the
// store applier, the layout wiring, and the status UI are subscribers.
const (
	// TopicConnectivity carries ConnectivityEvent payloads on every
	// connect/disconnect transition.
	TopicConnectivity = "mirror.connectivity"

	// TopicUpdate carries entity.Update payloads, one per normalized
	// inbound record. Subtopics select a single entity kind.
	TopicUpdate           = "mirror.update"
	TopicUpdateAgent      = "mirror.update.agent"
	TopicUpdateTask       = "mirror.update.task"
	TopicUpdateConnection = "mirror.update.connection"
	TopicUpdateCounter    = "mirror.update.counter"

	// TopicSnapshot carries one full-state fetch result as a single
	// []entity.Update payload, so a large response occupies one buffer
	// slot instead of racing per-record events against it.
	TopicSnapshot = "mirror.snapshot"
)

// ConnectivityEvent is published when the live feed connects or drops.
type ConnectivityEvent struct {
	Connected bool
	Transport string // "websocket", "sse", or "poll"
}
