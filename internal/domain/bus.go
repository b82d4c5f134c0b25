package domain

// MessageBus carries inbound messages from chat channels to the relay worker.
type MessageBus interface {
	Publish(msg InboundMessage)
	Subscribe() <-chan InboundMessage
	Close()
}
